package circuitbreaker

type outcome struct {
	failed bool
	slow   bool
}

// window is a fixed-size ring of the most recent outcomes with running
// totals.
type window struct {
	ring   []outcome
	next   int
	size   int
	failed int
	slow   int
}

func newWindow(capacity int) *window {
	return &window{ring: make([]outcome, capacity)}
}

func (w *window) add(o outcome) {
	if w.size == len(w.ring) {
		old := w.ring[w.next]
		if old.failed {
			w.failed--
		}
		if old.slow {
			w.slow--
		}
	} else {
		w.size++
	}
	w.ring[w.next] = o
	w.next = (w.next + 1) % len(w.ring)
	if o.failed {
		w.failed++
	}
	if o.slow {
		w.slow++
	}
}

func (w *window) failureRate() float64 {
	if w.size == 0 {
		return 0
	}
	return float64(w.failed) * 100 / float64(w.size)
}

func (w *window) slowRate() float64 {
	if w.size == 0 {
		return 0
	}
	return float64(w.slow) * 100 / float64(w.size)
}

package pipeline

import (
	"fmt"
	"sort"
)

// Stage orders. Lower runs first.
const (
	OrderCorrelation = 0
	OrderLogging     = 10
	OrderAuth        = 20
	OrderGuards      = 30
	OrderCanary      = 40
)

// Next continues the pipeline with the following stage.
type Next func(rc *RequestContext) error

// Stage is one step of request processing. A stage short-circuits by
// writing a response, or returning an error, without calling next.
type Stage interface {
	Name() string
	Order() int
	Process(rc *RequestContext, next Next) error
}

// StageFunc adapts a function to Stage.
type StageFunc struct {
	StageName  string
	StageOrder int
	Fn         func(rc *RequestContext, next Next) error
}

// Name implements Stage.
func (s StageFunc) Name() string { return s.StageName }

// Order implements Stage.
func (s StageFunc) Order() int { return s.StageOrder }

// Process implements Stage.
func (s StageFunc) Process(rc *RequestContext, next Next) error {
	return s.Fn(rc, next)
}

// sortStages returns a copy of stages sorted by Order, keeping registration
// order for equal orders.
func sortStages(stages []Stage) []Stage {
	out := append([]Stage(nil), stages...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order() < out[j].Order()
	})
	return out
}

// PanicError is a recovered stage panic.
type PanicError struct {
	Stage string
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in stage %s: %v", e.Stage, e.Value)
}

package util

import (
	"net"
	"net/http"
	"strings"
)

// Header names shared across the gateway.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderUserID        = "X-User-ID"
	HeaderProfileID     = "X-Profile-ID"
	HeaderUserRoles     = "X-User-Roles"
	HeaderCanary        = "X-Canary"
	HeaderForwardedFor  = "X-Forwarded-For"
	HeaderRealIP        = "X-Real-IP"
	HeaderRetryAfter    = "Retry-After"
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	ContentTypeJSON = "application/json"
)

// StatusCapturingResponseWriter records the status code and guards against
// writing a response twice. Once HeaderWritten is true the response is
// committed and later WriteHeader calls are dropped.
type StatusCapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode    int
	HeaderWritten bool
	BytesWritten  int64
}

// NewStatusCapturingResponseWriter wraps w with a default status of 200.
// Wrapping an already wrapped writer returns it unchanged.
func NewStatusCapturingResponseWriter(w http.ResponseWriter) *StatusCapturingResponseWriter {
	if sw, ok := w.(*StatusCapturingResponseWriter); ok {
		return sw
	}
	return &StatusCapturingResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader records code and forwards it once.
func (w *StatusCapturingResponseWriter) WriteHeader(code int) {
	if w.HeaderWritten {
		return
	}
	w.StatusCode = code
	w.HeaderWritten = true
	w.ResponseWriter.WriteHeader(code)
}

// Write forwards b and marks the response committed.
func (w *StatusCapturingResponseWriter) Write(b []byte) (int, error) {
	w.HeaderWritten = true
	n, err := w.ResponseWriter.Write(b)
	w.BytesWritten += int64(n)
	return n, err
}

// Committed reports whether anything has been sent to the client.
func (w *StatusCapturingResponseWriter) Committed() bool {
	return w.HeaderWritten
}

// Flush implements http.Flusher.
func (w *StatusCapturingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (w *StatusCapturingResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

var _ http.Flusher = (*StatusCapturingResponseWriter)(nil)

// ClientIP returns the caller address: the first X-Forwarded-For hop, then
// X-Real-IP, then the transport peer without its port. The forwarded headers
// are trusted as sent.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get(HeaderForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get(HeaderRealIP)); realIP != "" {
		return realIP
	}
	if r.RemoteAddr != "" {
		return stripPort(r.RemoteAddr)
	}
	return "unknown"
}

func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// MatchPathPattern reports whether path matches pattern. A pattern ending in
// "/**" matches its prefix itself and everything below it; any other pattern
// must equal path.
func MatchPathPattern(pattern, path string) bool {
	prefix, ok := strings.CutSuffix(pattern, "/**")
	if !ok {
		return pattern == path
	}
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

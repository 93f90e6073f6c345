package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/streamflix/gateway/internal/auth"
	"github.com/streamflix/gateway/internal/canary"
	"github.com/streamflix/gateway/internal/router"
	"github.com/streamflix/gateway/internal/util"
)

// RequestContext is the per-request state shared by all stages. It is owned
// by the goroutine serving the request and must not be retained after the
// request completes.
type RequestContext struct {
	CorrelationID string
	Request       *http.Request
	Writer        *util.StatusCapturingResponseWriter

	// Outbound holds headers added to the backend request.
	Outbound http.Header

	Identity  *auth.Identity
	ProfileID string
	Roles     []string

	Route        *router.Route
	Canary       canary.Decision
	RateLimitKey string

	// Attributes carries values between stages that have no dedicated field.
	Attributes map[string]any

	StartedAt time.Time

	fail func(rc *RequestContext, err error)
}

// NewRequestContext wraps w and r for one pass through the pipeline.
func NewRequestContext(w http.ResponseWriter, r *http.Request) *RequestContext {
	return &RequestContext{
		Request:    r,
		Writer:     util.NewStatusCapturingResponseWriter(w),
		Outbound:   make(http.Header),
		Attributes: make(map[string]any),
		StartedAt:  time.Now(),
	}
}

// Context returns the request context.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// WithContext replaces the request context.
func (rc *RequestContext) WithContext(ctx context.Context) {
	rc.Request = rc.Request.WithContext(ctx)
}

// Committed reports whether the response has been sent.
func (rc *RequestContext) Committed() bool {
	return rc.Writer.Committed()
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func (rc *RequestContext) UserID() string {
	if rc.Identity == nil {
		return ""
	}
	return rc.Identity.UserID
}

// RouteName returns the matched route name, or "" before matching.
func (rc *RequestContext) RouteName() string {
	if rc.Route == nil {
		return ""
	}
	return rc.Route.Name
}

// Fail translates err into the error response now instead of letting it
// propagate. Stages that must observe the final status, such as request
// logging, call it on the error returned by next. It is a no-op once the
// response is committed.
func (rc *RequestContext) Fail(err error) {
	if err == nil || rc.fail == nil {
		return
	}
	rc.fail(rc, err)
}

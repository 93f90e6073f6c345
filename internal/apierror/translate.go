package apierror

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/streamflix/gateway/internal/observability"
	"github.com/streamflix/gateway/internal/util"
)

// Client facing messages for translated failures.
const (
	MsgCircuitOpen        = "Service temporarily unavailable. Please try again later."
	MsgGatewayTimeout     = "Request timed out. Please try again."
	MsgServiceUnavailable = "Service is currently unavailable. Please try again later."
	MsgRouteNotFound      = "The requested resource was not found."
	MsgRequestError       = "Request error"
	MsgInternalError      = "An unexpected error occurred. Please try again later."
	MsgRateLimited        = "Too many requests. Please slow down and try again later."
)

// Translation is the client response chosen for an error.
type Translation struct {
	Status  int
	Code    string
	Message string
	Headers http.Header
}

// Translate maps err onto a closed set of client responses. Internal
// details never reach the message except for explicit status reasons.
func Translate(err error) Translation {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return Translation{Status: apiErr.Status, Code: apiErr.Code, Message: apiErr.Message, Headers: apiErr.Headers}
	}

	var rlErr *util.RateLimitError
	if errors.As(err, &rlErr) {
		return Translation{
			Status:  http.StatusTooManyRequests,
			Code:    CodeRateLimitExceeded,
			Message: MsgRateLimited,
			Headers: RateLimitHeaders(rlErr),
		}
	}

	var statusErr *util.StatusError
	switch {
	case errors.Is(err, util.ErrCircuitOpen):
		return Translation{Status: http.StatusServiceUnavailable, Code: CodeCircuitBreakerOpen, Message: MsgCircuitOpen}
	case errors.Is(err, util.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Translation{Status: http.StatusGatewayTimeout, Code: CodeGatewayTimeout, Message: MsgGatewayTimeout}
	case errors.Is(err, util.ErrBackendUnavail):
		return Translation{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: MsgServiceUnavailable}
	case errors.Is(err, util.ErrNotFound):
		return Translation{Status: http.StatusNotFound, Code: CodeRouteNotFound, Message: MsgRouteNotFound}
	case errors.As(err, &statusErr):
		msg := statusErr.Reason
		if msg == "" {
			msg = MsgRequestError
		}
		return Translation{Status: statusErr.StatusCode, Code: CodeRequestError, Message: msg}
	}

	return Translation{Status: http.StatusInternalServerError, Code: CodeInternalError, Message: MsgInternalError}
}

// RateLimitHeaders returns Retry-After and the X-RateLimit-* headers for e.
// Retry-After is in whole seconds, at least 1.
func RateLimitHeaders(e *util.RateLimitError) http.Header {
	secs := int64(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	h := make(http.Header, 3)
	h.Set(util.HeaderRetryAfter, strconv.FormatInt(secs, 10))
	h.Set(util.HeaderRateLimitLimit, strconv.Itoa(e.Limit))
	h.Set(util.HeaderRateLimitRemaining, strconv.Itoa(e.Remaining))
	return h
}

// Translator writes error envelopes for failures that escape the pipeline.
type Translator struct {
	logger     observability.Logger
	apiVersion string
}

// TranslatorOption configures a Translator.
type TranslatorOption func(*Translator)

// WithAPIVersion stamps apiVersion on every envelope.
func WithAPIVersion(v string) TranslatorOption {
	return func(t *Translator) { t.apiVersion = v }
}

// NewTranslator creates a Translator.
func NewTranslator(logger observability.Logger, opts ...TranslatorOption) *Translator {
	if logger == nil {
		logger = observability.NopLogger()
	}
	t := &Translator{logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handle translates err and writes the envelope to w. A committed response
// is left untouched. It returns the status written, or 0 when nothing was.
func (t *Translator) Handle(w http.ResponseWriter, r *http.Request, err error, correlationID string) int {
	tr := Translate(err)
	log := t.logger.With(
		observability.String("correlation_id", correlationID),
		observability.String("method", r.Method),
		observability.String("path", r.URL.Path),
		observability.Int("status", tr.Status),
		observability.String("code", tr.Code),
		observability.Error(err),
	)

	if committed(w) {
		log.Debug("response already committed, dropping error response")
		return 0
	}

	switch {
	case tr.Code == CodeInternalError:
		log.Error("unhandled gateway error")
	case tr.Status >= http.StatusInternalServerError:
		log.Warn("gateway error")
	default:
		log.Debug("request rejected")
	}

	for k, vs := range tr.Headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	env := Failure(tr.Code, tr.Message, correlationID)
	env.APIVersion = t.apiVersion
	WriteJSON(w, tr.Status, env)
	return tr.Status
}

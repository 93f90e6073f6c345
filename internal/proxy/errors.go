package proxy

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/streamflix/gateway/internal/util"
)

// Error type labels used in metrics.
const (
	errorTypeTimeout     = "timeout"
	errorTypeUnreachable = "unreachable"
	errorTypeServerError = "server_error"
	errorTypeCanceled    = "canceled"
)

// classifyError maps a round-trip error onto the shared error types. A
// canceled context is returned as is.
func classifyError(ctx context.Context, backend string, timeout time.Duration, err error) (error, string) {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err(), errorTypeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return util.NewTimeoutError("backend "+backend, timeout, err), errorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return util.NewTimeoutError("backend "+backend, timeout, err), errorTypeTimeout
	}
	return util.NewBackendError(backend, "unreachable", err), errorTypeUnreachable
}

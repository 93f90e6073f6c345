// Package pipeline composes the gateway request path.
//
// A request passes through an ordered list of global stages (correlation,
// logging, authentication), is matched to a route, passes the route's own
// stages (authorization guards, canary placement) and is finally forwarded
// to the backend. The backend call is decorated:
//
//	WithCircuitBreaker(registry, backend, fallback,
//	    WithRateLimit(limiter, rule, metrics, forward))
//
// Any stage may short-circuit by returning an error or writing a response
// without calling next. Errors and recovered panics are translated into the
// JSON error envelope once; nothing is written after the response is
// committed.
package pipeline

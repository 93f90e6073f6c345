// Package health serves the gateway's liveness, readiness and aggregate
// health endpoints.
//
//   - GET /health: liveness, always UP while the process serves requests
//   - GET /ready: runs the registered dependency checks (the shared Redis
//     store) and answers 503 while any is DOWN
//   - GET /gateway/health: UP, or DEGRADED while any circuit breaker is open
//   - GET /gateway/circuit-breakers: the state of every breaker
//
// # Usage
//
//	h := health.NewHandler(health.WithBreakers(registry), health.WithLogger(logger))
//	h.AddCheck(health.RedisCheck("redis", client))
//	h.RegisterRoutes(engine)
package health

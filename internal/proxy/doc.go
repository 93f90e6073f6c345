// Package proxy forwards requests to backend services and relays their
// responses.
//
// Forward performs the backend round trip without writing anything to the
// client, so callers can decide what to do with the outcome before the
// response is committed. Failures are classified onto the shared error
// types:
//
//   - deadline exceeded or a transport timeout: *util.TimeoutError
//   - connection refused, DNS failure, reset before a response:
//     *util.BackendError
//   - a 5xx response: the response together with a *util.ServerError
//
// 4xx responses are returned with a nil error.
//
// # Usage
//
//	fwd := proxy.NewForwarder(proxy.WithLogger(logger))
//	resp, err := fwd.Forward(ctx, proxy.Target{Backend: "content", URL: u}, r, "/titles", extra)
//	if resp != nil {
//	    _ = proxy.WriteResponse(w, resp)
//	}
package proxy

// Package router maps requests onto configured backend routes.
//
// A route matches by path (exact, or a "/**" prefix), or by regular
// expression, optionally restricted to a set of methods. Routes are tried by
// configured priority, then by specificity (exact before prefix before
// regex, longer prefixes first, method-restricted routes first), then in
// declaration order.
//
// # Usage
//
//	r := router.New()
//	if err := r.Load(cfg.Routes); err != nil {
//	    return err
//	}
//	route, err := r.Match(req) // util.RouteNotFoundError when nothing matches
package router

package router

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/streamflix/gateway/internal/config"
	"github.com/streamflix/gateway/internal/util"
)

// DefaultTimeout bounds a backend call when the route sets none.
const DefaultTimeout = 30 * time.Second

// Route priority constants for ordering routes with equal configured
// priority. Higher scores are matched first.
const (
	priorityExactMatch        = 1000
	priorityPrefixMatch       = 500
	priorityRegexMatch        = 100
	priorityMethodRestriction = 50
)

// Route is a compiled route.
type Route struct {
	Name    string
	Config  config.RouteConfig
	Path    PathMatcher
	Methods *MethodMatcher
	// Upstream and CanaryUpstream are the stable and canary base URLs.
	// CanaryUpstream is nil when the route has no canary.
	Upstream       *url.URL
	CanaryUpstream *url.URL

	score int
	index int
}

// Backend returns the breaker and fallback name of the route's backend.
func (rt *Route) Backend() string {
	return rt.Config.BackendName()
}

// Timeout returns the backend call timeout.
func (rt *Route) Timeout() time.Duration {
	if d := rt.Config.Timeout.Duration(); d > 0 {
		return d
	}
	return DefaultTimeout
}

// Target returns the upstream base URL for a canary or stable placement.
func (rt *Route) Target(useCanary bool) *url.URL {
	if useCanary && rt.CanaryUpstream != nil {
		return rt.CanaryUpstream
	}
	return rt.Upstream
}

// UpstreamPath removes the configured number of leading segments from path.
func (rt *Route) UpstreamPath(path string) string {
	n := rt.Config.StripPrefix
	if n <= 0 {
		return path
	}
	rest := strings.TrimPrefix(path, "/")
	for ; n > 0 && rest != ""; n-- {
		_, after, found := strings.Cut(rest, "/")
		if !found {
			rest = ""
			break
		}
		rest = after
	}
	return "/" + rest
}

func (rt *Route) matches(r *http.Request) bool {
	if rt.Methods != nil && !rt.Methods.Match(r.Method) {
		return false
	}
	return rt.Path.Match(r.URL.Path)
}

// Router is the main routing engine. Load swaps the whole table, so a
// request sees either the old or the new routes.
type Router struct {
	mu       sync.RWMutex
	routes   []*Route
	routeMap map[string]*Route
}

// New creates a new router.
func New() *Router {
	return &Router{routeMap: make(map[string]*Route)}
}

// Load compiles routes and replaces the table. On error the table is left
// unchanged.
func (r *Router) Load(routes []config.RouteConfig) error {
	compiled := make([]*Route, 0, len(routes))
	byName := make(map[string]*Route, len(routes))
	for i, rc := range routes {
		if _, exists := byName[rc.Name]; exists {
			return fmt.Errorf("duplicate route name: %s", rc.Name)
		}
		rt, err := compileRoute(rc, i)
		if err != nil {
			return fmt.Errorf("failed to compile route %s: %w", rc.Name, err)
		}
		compiled = append(compiled, rt)
		byName[rc.Name] = rt
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		a, b := compiled[i], compiled[j]
		if a.Config.Priority != b.Config.Priority {
			return a.Config.Priority > b.Config.Priority
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.index < b.index
	})

	r.mu.Lock()
	r.routes = compiled
	r.routeMap = byName
	r.mu.Unlock()
	return nil
}

// Match finds the first matching route for a request. A path that is only
// routed for other methods yields a 405 StatusError.
func (r *Router) Match(req *http.Request) (*Route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pathMatched := false
	for _, rt := range r.routes {
		if rt.matches(req) {
			return rt, nil
		}
		if !pathMatched && rt.Path.Match(req.URL.Path) {
			pathMatched = true
		}
	}
	if pathMatched {
		return nil, util.NewStatusError(http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s is not allowed on %s", req.Method, req.URL.Path))
	}
	return nil, util.NewRouteNotFoundError(req.Method, req.URL.Path)
}

// Get returns a route by name.
func (r *Router) Get(name string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routeMap[name]
	return rt, ok
}

// Routes returns all routes in match order.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Route, len(r.routes))
	copy(out, r.routes)
	return out
}

func compileRoute(rc config.RouteConfig, index int) (*Route, error) {
	pm, err := NewPathMatcher(rc.Path, rc.Regex)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	upstream, err := parseUpstream(rc.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid uri: %w", err)
	}
	rt := &Route{
		Name:     rc.Name,
		Config:   rc,
		Path:     pm,
		Upstream: upstream,
		index:    index,
	}
	if rc.CanaryURI != "" {
		if rt.CanaryUpstream, err = parseUpstream(rc.CanaryURI); err != nil {
			return nil, fmt.Errorf("invalid canary uri: %w", err)
		}
	}
	if len(rc.Methods) > 0 {
		rt.Methods = NewMethodMatcher(rc.Methods)
	}
	rt.score = score(rt)
	return rt, nil
}

func parseUpstream(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return u, nil
}

// score ranks routes by specificity: exact paths first, then longer
// prefixes, then regexes; method restrictions add to the score.
func score(rt *Route) int {
	s := 0
	switch m := rt.Path.(type) {
	case *ExactMatcher:
		s += priorityExactMatch
	case *PrefixMatcher:
		s += priorityPrefixMatch + m.prefixLen()
	case *RegexMatcher:
		s += priorityRegexMatch
	}
	if rt.Methods != nil {
		s += priorityMethodRestriction
	}
	return s
}

package router

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/streamflix/gateway/internal/util"
)

// PathMatcher is the interface for path matching.
type PathMatcher interface {
	Match(path string) bool
	Type() string
	Pattern() string
}

// ExactMatcher matches exact paths.
type ExactMatcher struct {
	path string
}

// NewExactMatcher creates a new exact path matcher.
func NewExactMatcher(path string) *ExactMatcher {
	return &ExactMatcher{path: path}
}

// Match checks if the path matches exactly.
func (m *ExactMatcher) Match(path string) bool {
	return path == m.path
}

// Type returns the matcher type.
func (m *ExactMatcher) Type() string {
	return "exact"
}

// Pattern returns the pattern.
func (m *ExactMatcher) Pattern() string {
	return m.path
}

// PrefixMatcher matches a "/**" pattern: the prefix itself and everything
// below it on a segment boundary.
type PrefixMatcher struct {
	pattern string
}

// NewPrefixMatcher creates a matcher for pattern, which ends in "/**".
func NewPrefixMatcher(pattern string) *PrefixMatcher {
	return &PrefixMatcher{pattern: pattern}
}

// Match checks if the path is under the prefix.
func (m *PrefixMatcher) Match(path string) bool {
	return util.MatchPathPattern(m.pattern, path)
}

// Type returns the matcher type.
func (m *PrefixMatcher) Type() string {
	return "prefix"
}

// Pattern returns the pattern.
func (m *PrefixMatcher) Pattern() string {
	return m.pattern
}

// prefixLen is the length of the literal prefix, used for ordering.
func (m *PrefixMatcher) prefixLen() int {
	return len(strings.TrimSuffix(m.pattern, "/**"))
}

// RegexMatcher matches paths using regular expressions.
type RegexMatcher struct {
	pattern string
	regex   *regexp.Regexp
}

// regexCacheMaxSize is the maximum number of compiled patterns kept across
// reloads.
const regexCacheMaxSize = 1000

var regexCache, _ = lru.New[string, *regexp.Regexp](regexCacheMaxSize)

// NewRegexMatcher creates a new regex path matcher.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	if re, ok := regexCache.Get(pattern); ok {
		return &RegexMatcher{pattern: pattern, regex: re}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Add(pattern, re)
	return &RegexMatcher{pattern: pattern, regex: re}, nil
}

// Match checks if the path matches the regex.
func (m *RegexMatcher) Match(path string) bool {
	return m.regex.MatchString(path)
}

// Type returns the matcher type.
func (m *RegexMatcher) Type() string {
	return "regex"
}

// Pattern returns the pattern.
func (m *RegexMatcher) Pattern() string {
	return m.pattern
}

// NewPathMatcher picks the matcher for a route's path or regex.
func NewPathMatcher(path, regex string) (PathMatcher, error) {
	switch {
	case regex != "":
		return NewRegexMatcher(regex)
	case strings.HasSuffix(path, "/**"):
		return NewPrefixMatcher(path), nil
	default:
		return NewExactMatcher(path), nil
	}
}

// MethodMatcher matches HTTP methods.
type MethodMatcher struct {
	methods map[string]bool
}

// NewMethodMatcher creates a new method matcher.
func NewMethodMatcher(methods []string) *MethodMatcher {
	m := &MethodMatcher{
		methods: make(map[string]bool, len(methods)),
	}
	for _, method := range methods {
		m.methods[strings.ToUpper(method)] = true
	}
	return m
}

// Match checks if the method matches.
func (m *MethodMatcher) Match(method string) bool {
	method = strings.ToUpper(method)

	if m.methods["*"] {
		return true
	}

	// HEAD rides on GET routes.
	if method == "HEAD" && m.methods["GET"] {
		return true
	}

	return m.methods[method]
}

package auth

import (
	"net/http"
	"strings"

	"github.com/streamflix/gateway/internal/util"
)

const bearerScheme = "Bearer"

// ExtractBearer returns the token from "Authorization: Bearer <token>".
func ExtractBearer(r *http.Request) (string, error) {
	h := r.Header.Get(util.HeaderAuthorization)
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrMissingCredentials
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingCredentials
	}
	return token, nil
}

// PublicPaths matches paths that skip authentication.
type PublicPaths struct {
	patterns []string
}

// NewPublicPaths creates a matcher. Patterns are exact paths or prefixes
// ending in "/**".
func NewPublicPaths(patterns []string) *PublicPaths {
	return &PublicPaths{patterns: append([]string(nil), patterns...)}
}

// Match reports whether path is public.
func (p *PublicPaths) Match(path string) bool {
	if p == nil {
		return false
	}
	for _, pattern := range p.patterns {
		if util.MatchPathPattern(pattern, path) {
			return true
		}
	}
	return false
}

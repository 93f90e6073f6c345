package ratelimit

import (
	"net/http"

	"github.com/streamflix/gateway/internal/util"
)

// Key prefixes for the two kinds of callers.
const (
	userKeyPrefix = "user:"
	ipKeyPrefix   = "ip:"
)

// KeyResolver picks the bucket a request draws from.
type KeyResolver interface {
	Resolve(r *http.Request, userID string) string
}

// KeyResolverFunc adapts a function to KeyResolver.
type KeyResolverFunc func(r *http.Request, userID string) string

// Resolve implements KeyResolver.
func (f KeyResolverFunc) Resolve(r *http.Request, userID string) string {
	return f(r, userID)
}

// UserOrIPKey keys authenticated callers by user id and everyone else by
// client address.
var UserOrIPKey KeyResolver = KeyResolverFunc(func(r *http.Request, userID string) string {
	if userID != "" {
		return userKeyPrefix + userID
	}
	return ipKeyPrefix + util.ClientIP(r)
})

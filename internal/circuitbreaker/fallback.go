package circuitbreaker

import (
	"net/http"
	"strings"

	"github.com/streamflix/gateway/internal/apierror"
)

// Fallback is the degraded response served while a backend's breaker
// refuses calls.
type Fallback struct {
	Service string
	Code    string
	Message string
}

// DefaultFallbackService names the fallback used for unknown services.
const DefaultFallbackService = "default"

var fallbacks = map[string]Fallback{
	DefaultFallbackService: {
		Service: DefaultFallbackService,
		Code:    apierror.CodeServiceUnavailable,
		Message: "The service is temporarily unavailable. Please try again in a few moments.",
	},
	"auth": {
		Service: "auth",
		Code:    "AUTH_SERVICE_UNAVAILABLE",
		Message: "Authentication service is temporarily unavailable. Please try again shortly.",
	},
	"content": {
		Service: "content",
		Code:    "CONTENT_SERVICE_UNAVAILABLE",
		Message: "Content catalog is temporarily unavailable. Please try again shortly.",
	},
	"playback": {
		Service: "playback",
		Code:    "PLAYBACK_SERVICE_UNAVAILABLE",
		Message: "Playback service is temporarily unavailable. Please try again shortly.",
	},
	"recommendations": {
		Service: "recommendations",
		Code:    "RECOMMENDATIONS_UNAVAILABLE",
		Message: "Personalized recommendations are temporarily unavailable.",
	},
	"search": {
		Service: "search",
		Code:    "SEARCH_SERVICE_UNAVAILABLE",
		Message: "Search is temporarily unavailable. Please try again shortly.",
	},
}

// FallbackFor returns the fallback for service, or the default fallback.
func FallbackFor(service string) Fallback {
	if fb, ok := fallbacks[strings.ToLower(service)]; ok {
		return fb
	}
	return fallbacks[DefaultFallbackService]
}

// Error returns the fallback as a 503 pipeline error wrapping cause.
func (f Fallback) Error(cause error) *apierror.Error {
	return apierror.New(http.StatusServiceUnavailable, f.Code, f.Message).WithCause(cause)
}

// Write writes the fallback envelope.
func (f Fallback) Write(w http.ResponseWriter, correlationID string) bool {
	return apierror.WriteError(w, http.StatusServiceUnavailable, f.Code, f.Message, correlationID)
}

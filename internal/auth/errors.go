package auth

import (
	"errors"
	"net/http"

	"github.com/streamflix/gateway/internal/apierror"
)

// Sentinel errors returned in Result.Err and by ExtractBearer.
var (
	ErrMissingCredentials    = errors.New("missing or malformed bearer credentials")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenInvalid          = errors.New("token is invalid")
	ErrInvalidTokenType      = errors.New("token is not an access token")
	ErrTokenRevoked          = errors.New("token has been revoked")
	ErrRevocationUnavailable = errors.New("revocation store unavailable")
)

// Kind classifies a validation outcome.
type Kind int

// Validation outcomes.
const (
	KindValid Kind = iota
	KindExpired
	KindInvalid
	KindInvalidType
	KindRevoked
	KindRevocationUnavailable
)

// String returns the metric label for k.
func (k Kind) String() string {
	switch k {
	case KindValid:
		return "valid"
	case KindExpired:
		return "expired"
	case KindInvalid:
		return "invalid"
	case KindInvalidType:
		return "invalid_type"
	case KindRevoked:
		return "revoked"
	case KindRevocationUnavailable:
		return "revocation_unavailable"
	default:
		return "unknown"
	}
}

// Client responses for rejected credentials.
var (
	rejectMissing = apierror.New(http.StatusUnauthorized, apierror.CodeUnauthorized,
		"Missing or invalid Authorization header")
	rejectExpired = apierror.New(http.StatusUnauthorized, apierror.CodeTokenExpired,
		"Your session has expired. Please log in again.")
	rejectRevoked = apierror.New(http.StatusUnauthorized, apierror.CodeTokenRevoked,
		"Your session has been terminated. Please log in again.")
	rejectType = apierror.New(http.StatusUnauthorized, apierror.CodeUnauthorized,
		"Invalid token type")
	rejectInvalid = apierror.New(http.StatusUnauthorized, apierror.CodeInvalidToken,
		"Invalid authentication token")
	rejectUnavailable = apierror.New(http.StatusServiceUnavailable, apierror.CodeServiceUnavailable,
		apierror.MsgServiceUnavailable)
)

// MissingCredentials is the rejection for a request without a usable
// Authorization header.
func MissingCredentials() *apierror.Error {
	return rejectMissing.WithCause(ErrMissingCredentials)
}

// Rejection returns the client error for a failed Result, or nil for a
// valid one.
func (r Result) Rejection() *apierror.Error {
	var e *apierror.Error
	switch r.Kind {
	case KindValid:
		return nil
	case KindExpired:
		e = rejectExpired
	case KindRevoked:
		e = rejectRevoked
	case KindInvalidType:
		e = rejectType
	case KindRevocationUnavailable:
		e = rejectUnavailable
	default:
		e = rejectInvalid
	}
	return e.WithCause(r.Err)
}

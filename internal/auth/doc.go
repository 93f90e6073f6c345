// Package auth validates bearer access tokens and tracks revoked tokens.
//
// Validation verifies the HMAC signature and expiry with jwx, requires the
// ACCESS token type and consults a RevocationStore keyed by the token id.
// When the store cannot be reached the configured RevocationPolicy decides
// whether the token is accepted (fail open) or the request is refused
// (fail closed).
package auth

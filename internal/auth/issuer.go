package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Default token lifetimes used by Issuer.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims are the subject attributes placed in an issued token.
type Claims struct {
	UserID    string
	ProfileID string
	Email     string
	Roles     []string
	DeviceID  string
}

// Issuer signs tokens with the validator's key. The gateway never issues
// credentials to clients; this exists for tests and local tooling.
type Issuer struct {
	key        []byte
	alg        jwa.SignatureAlgorithm
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer creates an Issuer for secret and algorithm. A nil clock selects
// time.Now.
func NewIssuer(secret, algorithm string, now func() time.Time) (*Issuer, error) {
	alg, err := signatureAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		key:        []byte(secret),
		alg:        alg,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
		now:        now,
	}, nil
}

// IssueAccess signs an access token.
func (i *Issuer) IssueAccess(c Claims) (string, error) {
	return i.Issue(c, TokenTypeAccess, i.accessTTL)
}

// IssueRefresh signs a refresh token.
func (i *Issuer) IssueRefresh(c Claims) (string, error) {
	return i.Issue(c, TokenTypeRefresh, i.refreshTTL)
}

// Issue signs a token of tokenType valid for ttl from now. A negative ttl
// yields an already expired token.
func (i *Issuer) Issue(c Claims, tokenType string, ttl time.Duration) (string, error) {
	now := i.now()
	b := jwt.NewBuilder().
		JwtID(uuid.NewString()).
		Subject(c.Email).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(ClaimUserID, c.UserID).
		Claim(ClaimTokenType, tokenType)
	if c.ProfileID != "" {
		b = b.Claim(ClaimProfileID, c.ProfileID)
	}
	if c.Email != "" {
		b = b.Claim(ClaimEmail, c.Email)
	}
	if len(c.Roles) > 0 {
		b = b.Claim(ClaimRoles, c.Roles)
	}
	if c.DeviceID != "" {
		b = b.Claim(ClaimDeviceID, c.DeviceID)
	}

	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("building token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(i.alg, i.key))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return string(signed), nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/streamflix/gateway/internal/observability"
)

// DefaultClockSkew is the tolerance applied to exp, nbf and iat.
const DefaultClockSkew = 60 * time.Second

// Config configures a Validator.
type Config struct {
	Secret    string
	Algorithm string
	ClockSkew time.Duration
	Policy    RevocationPolicy
}

// Validate checks c.
func (c Config) Validate() error {
	if c.Secret == "" {
		return errors.New("auth: secret is required")
	}
	if _, err := signatureAlgorithm(c.Algorithm); err != nil {
		return err
	}
	if c.ClockSkew < 0 {
		return errors.New("auth: clock skew must not be negative")
	}
	return nil
}

func signatureAlgorithm(name string) (jwa.SignatureAlgorithm, error) {
	switch name {
	case "", "HS256":
		return jwa.HS256, nil
	case "HS384":
		return jwa.HS384, nil
	case "HS512":
		return jwa.HS512, nil
	}
	return "", fmt.Errorf("auth: unsupported algorithm %q", name)
}

// Result is the outcome of Validate. Identity is set only for KindValid.
type Result struct {
	Identity *Identity
	Kind     Kind
	Err      error
}

// Valid reports whether the token was accepted.
func (r Result) Valid() bool { return r.Kind == KindValid }

// Validator verifies bearer access tokens. It is safe for concurrent use.
type Validator struct {
	key     []byte
	alg     jwa.SignatureAlgorithm
	skew    time.Duration
	policy  RevocationPolicy
	store   RevocationStore
	now     func() time.Time
	logger  observability.Logger
	metrics *Metrics
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ValidatorOption {
	return func(v *Validator) { v.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a Validator. store may be nil, in which case no
// token is ever considered revoked.
func NewValidator(cfg Config, store RevocationStore, opts ...ValidatorOption) (*Validator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	alg, _ := signatureAlgorithm(cfg.Algorithm)

	v := &Validator{
		key:    []byte(cfg.Secret),
		alg:    alg,
		skew:   cfg.ClockSkew,
		policy: cfg.Policy,
		store:  store,
		now:    time.Now,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

func (v *Validator) parse(token string) (jwt.Token, error) {
	return jwt.Parse([]byte(token),
		jwt.WithKey(v.alg, v.key),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
}

// Validate verifies token and checks it against the revocation store.
func (v *Validator) Validate(ctx context.Context, token string) Result {
	start := time.Now()
	res := v.validate(ctx, token)
	v.metrics.recordValidation(res.Kind, time.Since(start))
	return res
}

func (v *Validator) validate(ctx context.Context, token string) Result {
	tok, err := v.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return Result{Kind: KindExpired, Err: fmt.Errorf("%w: %v", ErrTokenExpired, err)}
		}
		v.logger.Debug("token rejected", observability.Error(err))
		return Result{Kind: KindInvalid, Err: fmt.Errorf("%w: %v", ErrTokenInvalid, err)}
	}

	if tt := stringClaim(tok, ClaimTokenType); tt != TokenTypeAccess {
		return Result{Kind: KindInvalidType, Err: fmt.Errorf("%w: %q", ErrInvalidTokenType, tt)}
	}

	if jti := tok.JwtID(); jti != "" && v.store != nil {
		revoked, err := v.store.IsRevoked(ctx, jti)
		switch {
		case err != nil:
			v.metrics.recordRevocationError(v.policy)
			if v.policy == FailClosed {
				v.logger.Error("revocation store unavailable, rejecting token",
					observability.String("jti", jti),
					observability.Error(err),
				)
				return Result{Kind: KindRevocationUnavailable, Err: fmt.Errorf("%w: %v", ErrRevocationUnavailable, err)}
			}
			v.logger.Warn("revocation store unavailable, accepting token",
				observability.String("jti", jti),
				observability.Error(err),
			)
		case revoked:
			return Result{Kind: KindRevoked, Err: ErrTokenRevoked}
		}
	}

	return Result{Kind: KindValid, Identity: identityFrom(tok)}
}

// Revoke records token as revoked for the rest of its lifetime. Tokens that
// fail verification or have already expired are ignored.
func (v *Validator) Revoke(ctx context.Context, token string) error {
	if v.store == nil {
		return nil
	}
	tok, err := v.parse(token)
	if err != nil {
		v.metrics.recordRevocation("ignored")
		v.logger.Debug("ignoring revocation of unusable token", observability.Error(err))
		return nil
	}

	jti := tok.JwtID()
	ttl := tok.Expiration().Sub(v.now())
	if jti == "" || ttl <= 0 {
		v.metrics.recordRevocation("ignored")
		return nil
	}

	if err := v.store.Revoke(ctx, jti, ttl); err != nil {
		v.metrics.recordRevocation("error")
		return err
	}
	v.metrics.recordRevocation("revoked")
	v.logger.Info("token revoked",
		observability.String("jti", jti),
		observability.Duration("ttl", ttl),
	)
	return nil
}

func identityFrom(tok jwt.Token) *Identity {
	email := stringClaim(tok, ClaimEmail)
	if email == "" {
		email = tok.Subject()
	}
	return &Identity{
		UserID:    stringClaim(tok, ClaimUserID),
		ProfileID: stringClaim(tok, ClaimProfileID),
		Email:     email,
		Roles:     rolesClaim(tok),
		TokenID:   tok.JwtID(),
		ExpiresAt: tok.Expiration(),
	}
}

func stringClaim(tok jwt.Token, name string) string {
	raw, ok := tok.Get(name)
	if !ok || raw == nil {
		return ""
	}
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// rolesClaim accepts a JSON array or a comma separated string.
func rolesClaim(tok jwt.Token) []string {
	raw, ok := tok.Get(ClaimRoles)
	if !ok {
		return nil
	}
	var roles []string
	switch v := raw.(type) {
	case []interface{}:
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
	case []string:
		roles = append(roles, v...)
	case string:
		roles = SplitRoles(v)
	}
	return roles
}

// SplitRoles splits a comma separated role list, dropping blanks.
func SplitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

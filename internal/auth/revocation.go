package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// RevocationStore records revoked token ids until the tokens would have
// expired anyway.
type RevocationStore interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
}

// RevocationPolicy decides how a store failure affects validation.
type RevocationPolicy int

const (
	// FailOpen accepts the token when the store cannot answer.
	FailOpen RevocationPolicy = iota
	// FailClosed refuses the request when the store cannot answer.
	FailClosed
)

// ParseRevocationPolicy accepts "fail-open" and "fail-closed".
func ParseRevocationPolicy(s string) (RevocationPolicy, error) {
	switch s {
	case "", "fail-open":
		return FailOpen, nil
	case "fail-closed":
		return FailClosed, nil
	}
	return FailOpen, fmt.Errorf("unknown revocation policy %q", s)
}

// String implements fmt.Stringer.
func (p RevocationPolicy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Store defaults.
const (
	DefaultCommandTimeout      = 2 * time.Second
	DefaultStoreBreakerTimeout = 5 * time.Second
	DefaultStoreBreakerTrips   = 5
)

// RedisRevocationStore keeps revocations in Redis as
// <prefix><jti> = "revoked" with a TTL. Lookups go through a breaker so an
// unreachable Redis fails fast instead of costing every request the
// command timeout.
type RedisRevocationStore struct {
	client  redis.Cmdable
	prefix  string
	timeout time.Duration

	breakerTimeout time.Duration
	breakerTrips   uint32
	breaker        *gobreaker.CircuitBreaker
}

// RedisStoreOption configures a RedisRevocationStore.
type RedisStoreOption func(*RedisRevocationStore)

// WithKeyPrefix overrides DefaultRevocationPrefix.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisRevocationStore) { s.prefix = prefix }
}

// WithCommandTimeout overrides DefaultCommandTimeout.
func WithCommandTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisRevocationStore) { s.timeout = d }
}

// WithStoreBreaker sets how many consecutive lookup failures open the
// breaker and how long it stays open. Non-positive values keep the defaults.
func WithStoreBreaker(trips int, timeout time.Duration) RedisStoreOption {
	return func(s *RedisRevocationStore) {
		if trips > 0 {
			s.breakerTrips = uint32(trips) //nolint:gosec // positive, checked above
		}
		if timeout > 0 {
			s.breakerTimeout = timeout
		}
	}
}

// NewRedisRevocationStore creates a store on client.
func NewRedisRevocationStore(client redis.Cmdable, opts ...RedisStoreOption) *RedisRevocationStore {
	s := &RedisRevocationStore{
		client:         client,
		prefix:         DefaultRevocationPrefix,
		timeout:        DefaultCommandTimeout,
		breakerTimeout: DefaultStoreBreakerTimeout,
		breakerTrips:   DefaultStoreBreakerTrips,
	}
	for _, opt := range opts {
		opt(s)
	}
	trips := s.breakerTrips
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "revocation-store",
		MaxRequests: 1,
		Timeout:     s.breakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= trips
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return s
}

// IsRevoked implements RevocationStore. While the breaker is open it
// returns gobreaker.ErrOpenState without touching Redis.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		return s.client.Exists(cctx, s.prefix+tokenID).Result()
	})
	if err != nil {
		return false, fmt.Errorf("revocation lookup for %s: %w", tokenID, err)
	}
	return out.(int64) > 0, nil
}

// BreakerState reports the lookup breaker state.
func (s *RedisRevocationStore) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// Revoke implements RevocationStore. A non-positive ttl is a no-op.
func (s *RedisRevocationStore) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, s.prefix+tokenID, revokedValue, ttl).Err(); err != nil {
		return fmt.Errorf("revoking %s: %w", tokenID, err)
	}
	return nil
}

// ErrStoreClosed is returned by a closed MemoryRevocationStore.
var ErrStoreClosed = errors.New("revocation store closed")

// MemoryRevocationStore is a process local RevocationStore for development
// and tests.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	closed  bool
}

// NewMemoryRevocationStore creates an empty store. A nil clock selects
// time.Now.
func NewMemoryRevocationStore(now func() time.Time) *MemoryRevocationStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryRevocationStore{entries: make(map[string]time.Time), now: now}
}

// IsRevoked implements RevocationStore.
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStoreClosed
	}
	exp, ok := s.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(exp) {
		delete(s.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// Revoke implements RevocationStore.
func (s *MemoryRevocationStore) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.entries[tokenID] = s.now().Add(ttl)
	return nil
}

// Close makes every later call fail, simulating an unreachable store.
func (s *MemoryRevocationStore) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

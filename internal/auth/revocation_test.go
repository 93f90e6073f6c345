package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevocationStore(t *testing.T) {
	t.Parallel()

	now := testNow
	s := NewMemoryRevocationStore(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, s.Revoke(ctx, "jti-1", time.Minute))
	require.NoError(t, s.Revoke(ctx, "jti-2", 0))

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = s.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked, "zero ttl is never stored")

	now = now.Add(time.Minute)
	revoked, err = s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "entries lapse with the token")

	s.Close()
	_, err = s.IsRevoked(ctx, "jti-1")
	assert.ErrorIs(t, err, ErrStoreClosed)
}

func TestRedisRevocationStore_CustomPrefix(t *testing.T) {
	t.Parallel()
	f := newFixture(t, FailOpen)

	store := NewRedisRevocationStore(redisClient(t, f), WithKeyPrefix("revoked:"), WithCommandTimeout(time.Second))
	require.NoError(t, store.Revoke(context.Background(), "abc", time.Minute))

	assert.True(t, f.mr.Exists("revoked:abc"))
	revoked, err := store.IsRevoked(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRedisRevocationStore_BreakerFailsFast(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisRevocationStore(client, WithStoreBreaker(2, 50*time.Millisecond))
	ctx := context.Background()

	mr.SetError("LOADING")
	for i := 0; i < 2; i++ {
		_, err := store.IsRevoked(ctx, "jti-1")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, store.BreakerState())

	mr.SetError("")
	_, err := store.IsRevoked(ctx, "jti-1")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	require.Eventually(t, func() bool {
		revoked, err := store.IsRevoked(ctx, "jti-1")
		return err == nil && !revoked
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, gobreaker.StateClosed, store.BreakerState())
}

func TestRedisRevocationStore_CancellationsDoNotTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisRevocationStore(client, WithStoreBreaker(1, time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		_, err := store.IsRevoked(ctx, "jti-1")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, store.BreakerState())
}

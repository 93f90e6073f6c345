package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamflix/gateway/internal/observability"
)

func writeConfig(t *testing.T, path, secret string) {
	t.Helper()
	body := "auth:\n  secret: " + secret + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, "first")

	var latest atomic.Value
	w, err := NewWatcher(path, func(cfg *GatewayConfig) {
		latest.Store(cfg.Auth.Secret)
	}, WithDebounceDelay(20*time.Millisecond), WithLogger(observability.NopLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	assert.Equal(t, "first", w.Current().Auth.Secret)

	writeConfig(t, path, "second")

	assert.Eventually(t, func() bool {
		v, _ := latest.Load().(string)
		return v == "second"
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "second", w.Current().Auth.Secret)
}

func TestWatcher_KeepsPreviousOnInvalidReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, "good")

	var failures atomic.Int32
	w, err := NewWatcher(path, nil,
		WithDebounceDelay(20*time.Millisecond),
		WithErrorCallback(func(error) { failures.Add(1) }),
	)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("auth:\n  secret: \"\"\n"), 0o600))

	assert.Eventually(t, func() bool { return failures.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, "good", w.Current().Auth.Secret)
}

func TestWatcher_StartFailsOnInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  address: \"\"\n"), 0o600))

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Error(t, w.Start(context.Background()))
	assert.Nil(t, w.Current())
}

func TestWatcher_ForceReloadAndStop(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	writeConfig(t, path, "one")

	var calls atomic.Int32
	w, err := NewWatcher(path, func(*GatewayConfig) { calls.Add(1) })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	writeConfig(t, path, "two")
	require.NoError(t, w.ForceReload())
	assert.Equal(t, "two", w.Current().Auth.Secret)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.Start(context.Background()), ErrWatcherStopped)
}

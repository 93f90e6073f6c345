package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  address: ":8081"
  slowRequest: 2s
auth:
  secret: ${TEST_GW_SECRET:-fallback-secret}
  revocationPolicy: fail-closed
rateLimit:
  classes:
    auth:
      replenishRate: 1
      burstCapacity: 2
circuitBreaker:
  instances:
    content-service:
      failureRateThreshold: 25
routes:
  - name: content
    path: /api/v1/content/**
    uri: http://content:8080
    backend: content-service
    rateLimit: content
    canaryUri: http://content-canary:8080
    canaryPercentage: 10
    timeout: 1500
`

func TestLoadConfigFromReader_OverlaysDefaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Server.Address)
	assert.Equal(t, ":9090", cfg.Server.AdminAddress, "unset fields keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Server.SlowRequest.Duration())
	assert.Equal(t, "fallback-secret", cfg.Auth.Secret)
	assert.Equal(t, RevocationFailClosed, cfg.Auth.RevocationPolicy)

	// Map entries merge with the default classes.
	assert.Equal(t, 1, cfg.RateLimit.Classes["auth"].ReplenishRate)
	assert.Equal(t, 200, cfg.RateLimit.Classes["content"].ReplenishRate)

	require.Len(t, cfg.Routes, 1)
	r := cfg.Routes[0]
	assert.Equal(t, "content-service", r.BackendName())
	assert.Equal(t, 1500*time.Millisecond, r.Timeout.Duration())
	assert.Equal(t, 10, r.CanaryPercentage)

	require.NoError(t, ValidateConfig(cfg))
}

func TestLoadConfigFromReader_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_GW_SECRET", "from-env")

	cfg, err := LoadConfigFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_GW_HOST", "redis.internal")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set variable", input: "${TEST_GW_HOST}:6379", want: "redis.internal:6379"},
		{name: "default ignored when set", input: "${TEST_GW_HOST:-localhost}", want: "redis.internal"},
		{name: "default used", input: "${TEST_GW_MISSING:-localhost}", want: "localhost"},
		{name: "missing without default", input: "a${TEST_GW_MISSING}b", want: "ab"},
		{name: "escaped dollar", input: "pa$$word", want: "pa$word"},
		{name: "no placeholders", input: "plain", want: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substituteEnvVars(tt.input))
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  secret: s3cret\n"), 0o600))

	cfg, err := LoadAndValidate(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Len(t, cfg.Auth.PublicPaths, 9)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfigFromReader(strings.NewReader("server: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse YAML")

	_, err = LoadConfigFromReader(strings.NewReader("server:\n  readTimeout: soon\n"))
	assert.Error(t, err)
}

func TestLoadConfigFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader("  \n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestDuration_JSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"250ms"`)))
	assert.Equal(t, 250*time.Millisecond, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.Zero(t, d)

	b, err := Duration(90 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))

	assert.Error(t, d.UnmarshalJSON([]byte(`"later"`)))
}

package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  LogConfig
		wantErr bool
	}{
		{name: "default", config: DefaultLogConfig()},
		{name: "console stderr", config: LogConfig{Level: "debug", Format: "console", Output: "stderr"}},
		{name: "bad level", config: LogConfig{Level: "loud", Format: "json"}, wantErr: true},
		{name: "bad format", config: LogConfig{Level: "info", Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_WithContextAddsIDs(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "stfx-1700000000000-abcd1234")
	ctx = ContextWithTraceID(ctx, "trace-1")
	ctx = ContextWithSpanID(ctx, "span-1")

	logger.WithContext(ctx).Info("handled")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "stfx-1700000000000-abcd1234", fields["correlation_id"])
	assert.Equal(t, "trace-1", fields["trace_id"])
	assert.Equal(t, "span-1", fields["span_id"])
}

func TestLogger_WithContextEmpty(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	logger.WithContext(context.Background()).Warn("plain")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
}

func TestContextHelpers_Missing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, TraceIDFromContext(ctx))
	assert.Empty(t, SpanIDFromContext(ctx))
}

func TestGlobalLogger(t *testing.T) {
	nop := NopLogger()
	SetGlobalLogger(nop)
	defer SetGlobalLogger(nil)

	assert.Same(t, nop, L())
}

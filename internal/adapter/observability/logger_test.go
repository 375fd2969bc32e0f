package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dlegrain/EVAL-COSEP/internal/config"
)

func TestSetupLogger_DevAndProd(t *testing.T) {
	t.Parallel()
	dev := SetupLogger(config.Config{AppEnv: "dev", OTELServiceName: "svc"})
	require.NotNil(t, dev)
	assert.True(t, dev.Enabled(context.Background(), slog.LevelDebug))

	prod := SetupLogger(config.Config{AppEnv: "prod", OTELServiceName: "svc"})
	require.NotNil(t, prod)
	assert.False(t, prod.Enabled(context.Background(), slog.LevelDebug))
}

func TestLoggerFromContext(t *testing.T) {
	t.Parallel()
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	lg := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := ContextWithLogger(context.Background(), lg)
	assert.Same(t, lg, LoggerFromContext(ctx))

	// nil logger leaves the context untouched
	assert.Equal(t, ctx, ContextWithLogger(ctx, nil))
}

func TestRequestIDContext(t *testing.T) {
	t.Parallel()
	assert.Empty(t, RequestIDFromContext(context.Background()))
	ctx := ContextWithRequestID(context.Background(), "01HX")
	assert.Equal(t, "01HX", RequestIDFromContext(ctx))
	assert.Equal(t, ctx, ContextWithRequestID(ctx, ""))
}

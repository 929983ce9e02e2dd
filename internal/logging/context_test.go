package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", OperationID(ctx))
	assert.Equal(t, "", VaultID(ctx))

	ctx = WithOperationID(ctx, "op-123")
	ctx = WithVaultID(ctx, "prod")

	assert.Equal(t, "op-123", OperationID(ctx))
	assert.Equal(t, "prod", VaultID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithVaultID(WithOperationID(context.Background(), "op-abc"), "prod")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "operation_id=op-abc")
	assert.Contains(t, output, "vault_id=prod")
	assert.Contains(t, output, "test message")
}

func TestLogWithMissingKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithOperationID(context.Background(), "op-only")
	LogWith(ctx, logger).Info("partial context")

	output := buf.String()
	assert.Contains(t, output, "operation_id=op-only")
	assert.NotContains(t, output, "vault_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithVaultID(WithOperationID(context.Background(), "op-9"), "dev")
	logger.With("k", "v").InfoContext(ctx, "handled")

	output := buf.String()
	assert.Contains(t, output, "operation_id=op-9")
	assert.Contains(t, output, "vault_id=dev")
	assert.Contains(t, output, "k=v")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	ctx := WithVaultID(WithOperationID(context.Background(), "op-9"), "prod")
	logger.InfoContext(ctx, "hidden")
	logger.WarnContext(ctx, "shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "operation_id=op-9")
	assert.Contains(t, out, "vault_id=prod")
}

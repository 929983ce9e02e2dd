package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	operationIDKey ctxKey = iota
	vaultIDKey
)

// WithOperationID returns a context with the operation ID set.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// WithVaultID returns a context with the vault ID set.
func WithVaultID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, vaultIDKey, id)
}

// OperationID extracts the operation ID from the context, or "" if absent.
func OperationID(ctx context.Context) string {
	v, _ := ctx.Value(operationIDKey).(string)
	return v
}

// VaultID extracts the vault ID from the context, or "" if absent.
func VaultID(ctx context.Context) string {
	v, _ := ctx.Value(vaultIDKey).(string)
	return v
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := OperationID(ctx); id != "" {
		logger = logger.With(slog.String("operation_id", id))
	}
	if id := VaultID(ctx); id != "" {
		logger = logger.With(slog.String("vault_id", id))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := OperationID(ctx); v != "" {
		r.AddAttrs(slog.String("operation_id", v))
	}
	if v := VaultID(ctx); v != "" {
		r.AddAttrs(slog.String("vault_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the text logger used by the CLI and the MCP server. Callers pass
// stderr so stdout stays free for command output and the MCP stdio transport.
func New(w io.Writer, level string) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(NewCorrelationHandler(h))
}

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/vaultcrypt/internal/logging"
	"github.com/rendis/vaultcrypt/internal/store"
)

// defaultAuditLimit caps vault.audit results when no limit is given.
const defaultAuditLimit = 100

// handleEncrypt seals a secret under a vault id.
func (s *VaultServer) handleEncrypt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	secret, err := req.RequireString("secret")
	if err != nil {
		return mcp.NewToolResultError("secret is required"), nil
	}
	vaultID := req.GetString("vault_id", "")
	ctx = s.operation(ctx)

	text, encErr := s.keyring.Encrypt(ctx, secret, vaultID)
	if encErr != nil {
		return s.toolError(ctx, "encrypt failed", encErr), nil
	}

	h, _ := s.keyring.Inspect(text)
	return marshalResult(map[string]any{
		"text":     text,
		"vault_id": h.VaultID,
	})
}

// handleDecrypt opens vault text. With vault_id set, text labelled with a
// different id is reported as skipped rather than as an error.
func (s *VaultServer) handleDecrypt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}
	vaultID := req.GetString("vault_id", "")
	ctx = s.operation(ctx)

	if vaultID == "" {
		pt, decErr := s.keyring.Decrypt(ctx, text)
		if decErr != nil {
			return s.toolError(ctx, "decrypt failed", decErr), nil
		}
		return marshalResult(map[string]any{"plaintext": pt, "decrypted": true})
	}

	pt, ok, decErr := s.keyring.DecryptWith(ctx, text, vaultID)
	if decErr != nil {
		return s.toolError(ctx, "decrypt failed", decErr), nil
	}
	if !ok {
		return marshalResult(map[string]any{
			"decrypted": false,
			"reason":    fmt.Sprintf("text is not labelled with vault id %q", vaultID),
		})
	}
	return marshalResult(map[string]any{"plaintext": pt, "decrypted": true})
}

// handleRekey re-encrypts vault text under a new vault id.
func (s *VaultServer) handleRekey(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}
	newID, err := req.RequireString("new_vault_id")
	if err != nil {
		return mcp.NewToolResultError("new_vault_id is required"), nil
	}
	ctx = s.operation(ctx)

	out, rekeyErr := s.keyring.Rekey(ctx, text, newID)
	if rekeyErr != nil {
		return s.toolError(ctx, "rekey failed", rekeyErr), nil
	}
	return marshalResult(map[string]any{"text": out, "vault_id": newID})
}

// handleInspect returns the parsed header.
func (s *VaultServer) handleInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text is required"), nil
	}

	h, inspectErr := s.keyring.Inspect(text)
	if inspectErr != nil {
		return s.toolError(ctx, "inspect failed", inspectErr), nil
	}
	return marshalResult(h)
}

// handlePasswords dispatches the list, put and delete actions.
func (s *VaultServer) handlePasswords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action, err := req.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("action is required"), nil
	}
	vaultID := req.GetString("vault_id", "")
	ctx = s.operation(ctx)

	switch action {
	case "list":
		infos, listErr := s.keyring.ListPasswords(ctx)
		if listErr != nil {
			return s.toolError(ctx, "list passwords failed", listErr), nil
		}
		if infos == nil {
			infos = []*store.PasswordInfo{}
		}
		return marshalResult(map[string]any{"passwords": infos})

	case "put":
		if vaultID == "" {
			return mcp.NewToolResultError("vault_id is required for put"), nil
		}
		password := req.GetString("password", "")
		if password == "" {
			return mcp.NewToolResultError("password is required for put"), nil
		}
		if putErr := s.keyring.PutPassword(ctx, vaultID, password); putErr != nil {
			return s.toolError(ctx, "store password failed", putErr), nil
		}
		return marshalResult(map[string]any{"ok": true, "vault_id": vaultID})

	case "delete":
		if vaultID == "" {
			return mcp.NewToolResultError("vault_id is required for delete"), nil
		}
		if delErr := s.keyring.DeletePassword(ctx, vaultID); delErr != nil {
			return s.toolError(ctx, "delete password failed", delErr), nil
		}
		return marshalResult(map[string]any{"ok": true, "vault_id": vaultID})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q: must be list, put, or delete", action)), nil
	}
}

// handleAudit lists audit events, newest first.
func (s *VaultServer) handleAudit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.audit == nil {
		return mcp.NewToolResultError("audit log is not configured"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	af := store.AuditFilter{
		Operation: extractString(filter, "operation"),
		VaultID:   extractString(filter, "vault_id"),
		Outcome:   extractString(filter, "outcome"),
		Limit:     extractInt(filter, "limit", defaultAuditLimit),
	}
	if since := extractString(filter, "since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid since %q: expected RFC 3339", since)), nil
		}
		af.Since = &t
	}

	events, err := s.audit.ListAudit(ctx, af)
	if err != nil {
		return s.toolError(ctx, "audit query failed", err), nil
	}
	if events == nil {
		events = []*store.AuditEvent{}
	}
	return marshalResult(map[string]any{"events": events})
}

// operation tags ctx with a fresh operation id for log correlation.
func (s *VaultServer) operation(ctx context.Context) context.Context {
	return logging.WithOperationID(ctx, uuid.New().String())
}

// toolError logs err and wraps it as a tool-result error. The coded error
// text ("[CODE] message") is passed through so agents can branch on it.
func (s *VaultServer) toolError(ctx context.Context, prefix string, err error) *mcp.CallToolResult {
	logging.LogWith(ctx, s.logger).Debug(prefix, slog.String("error", err.Error()))
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

// extractString safely extracts a string from a filter map.
func extractString(filter map[string]any, key string) string {
	if filter == nil {
		return ""
	}
	s, _ := filter[key].(string)
	return s
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

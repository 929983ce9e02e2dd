package store

import (
	"context"
	"time"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Vault passwords (sealed)
	StorePassword(ctx context.Context, vaultID string, sealed []byte) error
	GetPassword(ctx context.Context, vaultID string) ([]byte, error)
	DeletePassword(ctx context.Context, vaultID string) error
	ListPasswords(ctx context.Context) ([]*PasswordInfo, error)

	// Audit log (append-only)
	AppendAudit(ctx context.Context, event *AuditEvent) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEvent, error)
	PruneAudit(ctx context.Context, before time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

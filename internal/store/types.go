package store

import "time"

// PasswordInfo describes a stored vault password without revealing it.
type PasswordInfo struct {
	VaultID   string     `json:"vault_id"`
	CreatedAt time.Time  `json:"created_at"`
	RotatedAt *time.Time `json:"rotated_at,omitempty"`
}

// AuditEvent is an immutable record of one vault operation.
type AuditEvent struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	VaultID   string    `json:"vault_id,omitempty"`
	Outcome   string    `json:"outcome"`
	ErrorCode string    `json:"error_code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditFilter controls audit queries. Zero values mean "no constraint".
type AuditFilter struct {
	Operation string
	VaultID   string
	Outcome   string
	Since     *time.Time
	Limit     int
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA secure_delete=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Vault passwords ---

func (s *LibSQLStore) StorePassword(ctx context.Context, vaultID string, sealed []byte) error {
	if vaultID == "" {
		return schema.NewError(schema.ErrCodeValidation, "vault id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_passwords (vault_id, sealed, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(vault_id) DO UPDATE SET sealed=excluded.sealed, rotated_at=?`,
		vaultID, sealed, time.Now().UTC(), time.Now().UTC(),
	)
	if err != nil {
		return storeErr("store password", err)
	}
	return nil
}

func (s *LibSQLStore) GetPassword(ctx context.Context, vaultID string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT sealed FROM vault_passwords WHERE vault_id = ?`, vaultID).Scan(&sealed)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("vault password", vaultID)
	}
	if err != nil {
		return nil, storeErr("get password", err)
	}
	return sealed, nil
}

func (s *LibSQLStore) DeletePassword(ctx context.Context, vaultID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_passwords WHERE vault_id = ?`, vaultID)
	if err != nil {
		return storeErr("delete password", err)
	}
	return checkRowsAffected(res, "vault password", vaultID)
}

func (s *LibSQLStore) ListPasswords(ctx context.Context) ([]*PasswordInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT vault_id, created_at, rotated_at FROM vault_passwords ORDER BY vault_id`)
	if err != nil {
		return nil, storeErr("list passwords", err)
	}
	defer rows.Close()

	var infos []*PasswordInfo
	for rows.Next() {
		p := &PasswordInfo{}
		var rotated sql.NullTime
		if err := rows.Scan(&p.VaultID, &p.CreatedAt, &rotated); err != nil {
			return nil, err
		}
		if rotated.Valid {
			p.RotatedAt = &rotated.Time
		}
		infos = append(infos, p)
	}
	return infos, rows.Err()
}

// --- Audit log ---

func (s *LibSQLStore) AppendAudit(ctx context.Context, event *AuditEvent) error {
	if event.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "audit event id is required")
	}
	event.Timestamp = timeOrNow(event.Timestamp)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, operation, vault_id, outcome, error_code, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Operation, nullStr(event.VaultID), event.Outcome, nullStr(event.ErrorCode), event.Timestamp,
	)
	if err != nil {
		return storeErr("append audit event", err)
	}
	return nil
}

func (s *LibSQLStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEvent, error) {
	var where []string
	var args []any

	if filter.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.VaultID != "" {
		where = append(where, "vault_id = ?")
		args = append(args, filter.VaultID)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := `SELECT id, operation, vault_id, outcome, error_code, timestamp FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list audit events", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		e := &AuditEvent{}
		var vaultID, errCode sql.NullString
		if err := rows.Scan(&e.ID, &e.Operation, &vaultID, &e.Outcome, &errCode, &e.Timestamp); err != nil {
			return nil, err
		}
		e.VaultID = vaultID.String
		e.ErrorCode = errCode.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// PruneAudit deletes audit events older than before and returns how many went.
func (s *LibSQLStore) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, storeErr("prune audit events", err)
	}
	return res.RowsAffected()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.VaultError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeErr(op string, err error) *schema.VaultError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

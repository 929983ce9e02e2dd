// Package keyring resolves vault passwords by vault id and runs vault
// operations against them, recording each operation in the audit log.
package keyring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/vaultcrypt/internal/logging"
	"github.com/rendis/vaultcrypt/internal/secrets"
	"github.com/rendis/vaultcrypt/internal/store"
	"github.com/rendis/vaultcrypt/internal/vaultcrypt"
	"github.com/rendis/vaultcrypt/pkg/schema"
)

// DefaultVaultID is used when neither the caller nor the vault text names one.
const DefaultVaultID = "default"

// AuditLog receives one event per operation.
type AuditLog interface {
	AppendAudit(ctx context.Context, event *store.AuditEvent) error
}

// PasswordManager manages stored passwords. Satisfied by *secrets.SealedSource.
type PasswordManager interface {
	Put(ctx context.Context, vaultID, password string) error
	Delete(ctx context.Context, vaultID string) error
	List(ctx context.Context) ([]*store.PasswordInfo, error)
}

// Deps holds the dependencies for creating a Keyring.
type Deps struct {
	Source         secrets.PasswordSource
	Manager        PasswordManager // optional
	Audit          AuditLog        // optional
	Pool           *vaultcrypt.Pool
	Logger         *slog.Logger
	DefaultVaultID string
}

// Keyring is safe for concurrent use.
type Keyring struct {
	source    secrets.PasswordSource
	manager   PasswordManager
	audit     AuditLog
	pool      *vaultcrypt.Pool
	logger    *slog.Logger
	defaultID string

	mu      sync.Mutex
	engines map[string]*vaultcrypt.Vault
}

// New creates a Keyring.
func New(deps Deps) *Keyring {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool := deps.Pool
	if pool == nil {
		pool = vaultcrypt.DefaultPool()
	}
	defaultID := deps.DefaultVaultID
	if defaultID == "" {
		defaultID = DefaultVaultID
	}
	return &Keyring{
		source:    deps.Source,
		manager:   deps.Manager,
		audit:     deps.Audit,
		pool:      pool,
		logger:    logger,
		defaultID: defaultID,
		engines:   make(map[string]*vaultcrypt.Vault),
	}
}

// DefaultID returns the vault id used when none is given.
func (k *Keyring) DefaultID() string { return k.defaultID }

// Encrypt seals secret with the password of vaultID (the default id when
// empty). The output always carries a 1.2 header naming that id.
func (k *Keyring) Encrypt(ctx context.Context, secret, vaultID string) (out string, err error) {
	vaultID = k.resolveID(vaultID)
	ctx = k.begin(ctx, vaultID)
	defer func() { k.record(ctx, schema.OpEncrypt, vaultID, outcome(err, true), err) }()

	v, err := k.engine(ctx, vaultID)
	if err != nil {
		return "", err
	}
	return v.Encrypt(ctx, secret, vaultID)
}

// Decrypt opens vault text with the password of the id in its header, or of
// the default id when the header has none.
func (k *Keyring) Decrypt(ctx context.Context, text string) (string, error) {
	pt, _, err := k.DecryptWith(ctx, text, "")
	return pt, err
}

// DecryptWith opens vault text with the password of vaultID. Text labelled
// with a different id is skipped: ok is false and err is nil. An empty
// vaultID applies no filter and behaves like Decrypt.
func (k *Keyring) DecryptWith(ctx context.Context, text, vaultID string) (pt string, ok bool, err error) {
	lookupID := vaultID
	ctx = k.begin(ctx, lookupID)
	defer func() { k.record(ctx, schema.OpDecrypt, lookupID, outcome(err, ok), err) }()

	// Reject non-vault input before a password lookup.
	h, err := vaultcrypt.Inspect(text)
	if err != nil {
		return "", false, err
	}
	if lookupID == "" {
		lookupID = k.resolveID(h.VaultID)
		ctx = logging.WithVaultID(ctx, lookupID)
	}
	v, err := k.engine(ctx, lookupID)
	if err != nil {
		return "", false, err
	}
	return v.Decrypt(ctx, text, vaultID)
}

// Rekey re-encrypts vault text under newVaultID, the ansible-vault rekey flow.
func (k *Keyring) Rekey(ctx context.Context, text, newVaultID string) (out string, err error) {
	newVaultID = k.resolveID(newVaultID)
	ctx = k.begin(ctx, newVaultID)
	defer func() { k.record(ctx, schema.OpRekey, newVaultID, outcome(err, true), err) }()

	pt, err := k.Decrypt(ctx, text)
	if err != nil {
		return "", err
	}
	return k.Encrypt(ctx, pt, newVaultID)
}

// Inspect parses the header of vault text without decrypting.
func (k *Keyring) Inspect(text string) (vaultcrypt.Header, error) {
	return vaultcrypt.Inspect(text)
}

// PutPassword stores the password for vaultID and drops its cached engine.
func (k *Keyring) PutPassword(ctx context.Context, vaultID, password string) (err error) {
	ctx = k.begin(ctx, vaultID)
	defer func() { k.record(ctx, schema.OpPasswordPut, vaultID, outcome(err, true), err) }()

	if k.manager == nil {
		return schema.NewError(schema.ErrCodeConfiguration, "password store is not configured")
	}
	if err = k.manager.Put(ctx, vaultID, password); err != nil {
		return err
	}
	k.forget(vaultID)
	return nil
}

// DeletePassword removes the stored password for vaultID.
func (k *Keyring) DeletePassword(ctx context.Context, vaultID string) (err error) {
	ctx = k.begin(ctx, vaultID)
	defer func() { k.record(ctx, schema.OpPasswordDelete, vaultID, outcome(err, true), err) }()

	if k.manager == nil {
		return schema.NewError(schema.ErrCodeConfiguration, "password store is not configured")
	}
	if err = k.manager.Delete(ctx, vaultID); err != nil {
		return err
	}
	k.forget(vaultID)
	return nil
}

// ListPasswords lists the vault ids with a stored password.
func (k *Keyring) ListPasswords(ctx context.Context) ([]*store.PasswordInfo, error) {
	if k.manager == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "password store is not configured")
	}
	return k.manager.List(ctx)
}

// engine returns the cached Vault for vaultID, resolving its password on first use.
func (k *Keyring) engine(ctx context.Context, vaultID string) (*vaultcrypt.Vault, error) {
	k.mu.Lock()
	v, ok := k.engines[vaultID]
	k.mu.Unlock()
	if ok {
		return v, nil
	}
	if k.source == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no password source configured")
	}

	pw, err := k.source.Password(ctx, vaultID)
	if err != nil {
		if secrets.IsNotFound(err) {
			return nil, schema.NewErrorf(schema.ErrCodeConfiguration, "no password for vault id %q", vaultID).
				WithVault(vaultID).WithCause(err)
		}
		return nil, err
	}
	v = vaultcrypt.New(pw, vaultcrypt.WithPool(k.pool))

	k.mu.Lock()
	defer k.mu.Unlock()
	if cached, ok := k.engines[vaultID]; ok {
		return cached, nil
	}
	k.engines[vaultID] = v
	return v, nil
}

func (k *Keyring) forget(vaultID string) {
	k.mu.Lock()
	delete(k.engines, vaultID)
	k.mu.Unlock()
}

func (k *Keyring) resolveID(vaultID string) string {
	if vaultID == "" {
		return k.defaultID
	}
	return vaultID
}

// begin tags ctx with a fresh operation id unless it already carries one.
func (k *Keyring) begin(ctx context.Context, vaultID string) context.Context {
	if logging.OperationID(ctx) == "" {
		ctx = logging.WithOperationID(ctx, uuid.New().String())
	}
	if vaultID != "" {
		ctx = logging.WithVaultID(ctx, vaultID)
	}
	return ctx
}

// record appends an audit event. Audit failures are logged, never returned.
func (k *Keyring) record(ctx context.Context, op, vaultID, result string, opErr error) {
	log := logging.LogWith(ctx, k.logger)
	if opErr != nil {
		log.Warn("vault operation failed",
			slog.String("operation", op),
			slog.String("code", schema.CodeOf(opErr)),
			slog.String("error", opErr.Error()),
		)
	} else {
		log.Debug("vault operation", slog.String("operation", op), slog.String("outcome", result))
	}

	if k.audit == nil {
		return
	}
	event := &store.AuditEvent{
		ID:        uuid.New().String(),
		Operation: op,
		VaultID:   vaultID,
		Outcome:   result,
		ErrorCode: schema.CodeOf(opErr),
		Timestamp: time.Now().UTC(),
	}
	if err := k.audit.AppendAudit(context.WithoutCancel(ctx), event); err != nil {
		log.Error("failed to append audit event", slog.String("error", err.Error()))
	}
}

func outcome(err error, ok bool) string {
	switch {
	case err != nil:
		return schema.OutcomeFailure
	case !ok:
		return schema.OutcomeSkipped
	default:
		return schema.OutcomeSuccess
	}
}

package keyring

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/vaultcrypt/internal/secrets"
	"github.com/rendis/vaultcrypt/internal/store"
	"github.com/rendis/vaultcrypt/internal/vaultcrypt"
	"github.com/rendis/vaultcrypt/pkg/schema"
)

type memAudit struct {
	mu     sync.Mutex
	events []*store.AuditEvent
	err    error
}

func (m *memAudit) AppendAudit(_ context.Context, e *store.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memAudit) last() *store.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

type countingSource struct {
	secrets.StaticSource
	mu    sync.Mutex
	calls int
}

func (c *countingSource) Password(ctx context.Context, vaultID string) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.StaticSource.Password(ctx, vaultID)
}

type memManager struct {
	src secrets.StaticSource
}

func (m *memManager) Put(_ context.Context, vaultID, password string) error {
	m.src[vaultID] = password
	return nil
}

func (m *memManager) Delete(_ context.Context, vaultID string) error {
	if _, ok := m.src[vaultID]; !ok {
		return schema.NewError(schema.ErrCodeNotFound, "not found")
	}
	delete(m.src, vaultID)
	return nil
}

func (m *memManager) List(_ context.Context) ([]*store.PasswordInfo, error) {
	var out []*store.PasswordInfo
	for id := range m.src {
		out = append(out, &store.PasswordInfo{VaultID: id})
	}
	return out, nil
}

func newTestKeyring(t *testing.T, src secrets.PasswordSource) (*Keyring, *memAudit) {
	t.Helper()
	pool := vaultcrypt.NewPool(2)
	t.Cleanup(pool.Shutdown)
	audit := &memAudit{}
	return New(Deps{Source: src, Audit: audit, Pool: pool}), audit
}

func TestKeyring_EncryptDefaultID(t *testing.T) {
	k, audit := newTestKeyring(t, secrets.StaticSource{"default": "pw-default"})
	ctx := context.Background()

	out, err := k.Encrypt(ctx, "hello", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "$ANSIBLE_VAULT;1.2;AES256;default\n"))

	e := audit.last()
	require.NotNil(t, e)
	assert.Equal(t, schema.OpEncrypt, e.Operation)
	assert.Equal(t, "default", e.VaultID)
	assert.Equal(t, schema.OutcomeSuccess, e.Outcome)
	assert.Empty(t, e.ErrorCode)
	assert.Len(t, e.ID, 36)
}

func TestKeyring_CustomDefaultID(t *testing.T) {
	pool := vaultcrypt.NewPool(1)
	defer pool.Shutdown()
	k := New(Deps{Source: secrets.StaticSource{"dev": "pw"}, Pool: pool, DefaultVaultID: "dev"})
	assert.Equal(t, "dev", k.DefaultID())

	out, err := k.Encrypt(context.Background(), "x", "")
	require.NoError(t, err)
	h, err := k.Inspect(out)
	require.NoError(t, err)
	assert.Equal(t, "dev", h.VaultID)
}

func TestKeyring_DecryptUsesHeaderID(t *testing.T) {
	src := secrets.StaticSource{"default": "pw-default", "prod": "pw-prod"}
	k, _ := newTestKeyring(t, src)
	ctx := context.Background()

	out, err := k.Encrypt(ctx, "db: secret", "prod")
	require.NoError(t, err)

	pt, err := k.Decrypt(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, "db: secret", pt)
}

func TestKeyring_DecryptUnlabelledUsesDefault(t *testing.T) {
	k, _ := newTestKeyring(t, secrets.StaticSource{"default": "pw-default"})

	// 1.1 text carries no vault id.
	text, err := vaultcrypt.New("pw-default").EncryptSync("legacy", "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(text, "$ANSIBLE_VAULT;1.1;AES256\n"))

	pt, err := k.Decrypt(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "legacy", pt)
}

func TestKeyring_DecryptWithMismatchedID(t *testing.T) {
	k, audit := newTestKeyring(t, secrets.StaticSource{"dev": "a", "prod": "b"})
	ctx := context.Background()

	out, err := k.Encrypt(ctx, "s", "prod")
	require.NoError(t, err)

	pt, ok, err := k.DecryptWith(ctx, out, "dev")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, pt)
	assert.Equal(t, schema.OutcomeSkipped, audit.last().Outcome)
}

func TestKeyring_DecryptWithEmptyIDUsesHeader(t *testing.T) {
	k, audit := newTestKeyring(t, secrets.StaticSource{"default": "a", "prod": "b"})
	ctx := context.Background()

	out, err := k.Encrypt(ctx, "s", "prod")
	require.NoError(t, err)

	pt, ok, err := k.DecryptWith(ctx, out, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s", pt)
	assert.Equal(t, "prod", audit.last().VaultID)
	assert.Equal(t, schema.OutcomeSuccess, audit.last().Outcome)
}

func TestKeyring_DecryptErrors(t *testing.T) {
	k, audit := newTestKeyring(t, secrets.StaticSource{"default": "right"})
	ctx := context.Background()

	t.Run("not a vault", func(t *testing.T) {
		_, err := k.Decrypt(ctx, "plain text")
		assert.True(t, schema.IsCode(err, schema.ErrCodeFormat))
		assert.Equal(t, schema.ErrCodeFormat, audit.last().ErrorCode)
		assert.Equal(t, schema.OutcomeFailure, audit.last().Outcome)
	})

	t.Run("wrong password", func(t *testing.T) {
		text, err := vaultcrypt.New("wrong").EncryptSync("x", "default")
		require.NoError(t, err)
		_, err = k.Decrypt(ctx, text)
		assert.True(t, schema.IsCode(err, schema.ErrCodeIntegrity))
	})

	t.Run("unknown vault id", func(t *testing.T) {
		text, err := vaultcrypt.New("whatever").EncryptSync("x", "staging")
		require.NoError(t, err)
		_, err = k.Decrypt(ctx, text)
		assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))
		assert.Equal(t, "staging", audit.last().VaultID)
	})
}

func TestKeyring_Rekey(t *testing.T) {
	k, audit := newTestKeyring(t, secrets.StaticSource{"dev": "a", "prod": "b"})
	ctx := context.Background()

	dev, err := k.Encrypt(ctx, "token=42", "dev")
	require.NoError(t, err)

	prod, err := k.Rekey(ctx, dev, "prod")
	require.NoError(t, err)
	h, err := k.Inspect(prod)
	require.NoError(t, err)
	assert.Equal(t, "prod", h.VaultID)

	pt, ok, err := vaultcrypt.New("b").DecryptSync(prod, "prod")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "token=42", pt)

	e := audit.last()
	assert.Equal(t, schema.OpRekey, e.Operation)
	assert.Equal(t, "prod", e.VaultID)
}

func TestKeyring_EnginesCached(t *testing.T) {
	src := &countingSource{StaticSource: secrets.StaticSource{"default": "pw"}}
	k, _ := newTestKeyring(t, src)
	ctx := context.Background()

	for range 3 {
		_, err := k.Encrypt(ctx, "x", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.calls)
}

func TestKeyring_PasswordManagement(t *testing.T) {
	src := secrets.StaticSource{"default": "old"}
	pool := vaultcrypt.NewPool(2)
	defer pool.Shutdown()
	audit := &memAudit{}
	k := New(Deps{Source: src, Manager: &memManager{src: src}, Audit: audit, Pool: pool})
	ctx := context.Background()

	before, err := k.Encrypt(ctx, "x", "")
	require.NoError(t, err)

	require.NoError(t, k.PutPassword(ctx, "default", "new"))
	assert.Equal(t, schema.OpPasswordPut, audit.last().Operation)

	// The cached engine was dropped, so the old text no longer opens.
	_, err = k.Decrypt(ctx, before)
	assert.True(t, schema.IsCode(err, schema.ErrCodeIntegrity))

	infos, err := k.ListPasswords(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "default", infos[0].VaultID)

	require.NoError(t, k.DeletePassword(ctx, "default"))
	_, err = k.Encrypt(ctx, "x", "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))

	err = k.DeletePassword(ctx, "default")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.Equal(t, schema.ErrCodeNotFound, audit.last().ErrorCode)
}

func TestKeyring_NoManager(t *testing.T) {
	k, _ := newTestKeyring(t, secrets.StaticSource{})
	err := k.PutPassword(context.Background(), "x", "y")
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))
	_, err = k.ListPasswords(context.Background())
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))
}

func TestKeyring_AuditFailureNotReturned(t *testing.T) {
	pool := vaultcrypt.NewPool(1)
	defer pool.Shutdown()
	audit := &memAudit{err: errors.New("disk full")}
	k := New(Deps{Source: secrets.StaticSource{"default": "pw"}, Audit: audit, Pool: pool})

	_, err := k.Encrypt(context.Background(), "x", "")
	assert.NoError(t, err)
}

func TestKeyring_Cancelled(t *testing.T) {
	k, audit := newTestKeyring(t, secrets.StaticSource{"default": "pw"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := k.Encrypt(ctx, "x", "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeCancelled))
	assert.Equal(t, schema.ErrCodeCancelled, audit.last().ErrorCode)
}

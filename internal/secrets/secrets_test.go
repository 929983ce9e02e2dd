package secrets

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/vaultcrypt/internal/store"
	"github.com/rendis/vaultcrypt/internal/vaultcrypt"
	"github.com/rendis/vaultcrypt/pkg/schema"
)

// mapStore is a simple in-memory PasswordStore for source tests.
type mapStore struct {
	data map[string][]byte
}

func newMapStore() *mapStore {
	return &mapStore{data: make(map[string][]byte)}
}

func (m *mapStore) StorePassword(_ context.Context, vaultID string, sealed []byte) error {
	cp := make([]byte, len(sealed))
	copy(cp, sealed)
	m.data[vaultID] = cp
	return nil
}

func (m *mapStore) GetPassword(_ context.Context, vaultID string) ([]byte, error) {
	v, ok := m.data[vaultID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "vault password %q not found", vaultID)
	}
	return v, nil
}

func (m *mapStore) DeletePassword(_ context.Context, vaultID string) error {
	if _, ok := m.data[vaultID]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "vault password %q not found", vaultID)
	}
	delete(m.data, vaultID)
	return nil
}

func (m *mapStore) ListPasswords(_ context.Context) ([]*store.PasswordInfo, error) {
	infos := make([]*store.PasswordInfo, 0, len(m.data))
	for k := range m.data {
		infos = append(infos, &store.PasswordInfo{VaultID: k})
	}
	return infos, nil
}

func TestSealedSource_PutAndPassword(t *testing.T) {
	s := newMapStore()
	src, err := NewSealedSource(s, "master-pw")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, src.Put(ctx, "prod", "prod-password"))

	pw, err := src.Password(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, "prod-password", pw)
}

func TestSealedSource_SealedAtRest(t *testing.T) {
	s := newMapStore()
	src, err := NewSealedSource(s, "master-pw")
	require.NoError(t, err)

	require.NoError(t, src.Put(context.Background(), "prod", "plaintext-password"))

	raw := string(s.data["prod"])
	assert.NotContains(t, raw, "plaintext-password")
	assert.True(t, strings.HasPrefix(raw, "$ANSIBLE_VAULT;1.2;AES256;"+MasterVaultID+"\n"))
}

func TestSealedSource_WrongMaster(t *testing.T) {
	s := newMapStore()
	ctx := context.Background()

	src1, err := NewSealedSource(s, "master-1")
	require.NoError(t, err)
	require.NoError(t, src1.Put(ctx, "prod", "hidden"))

	src2, err := NewSealedSource(s, "master-2")
	require.NoError(t, err)
	_, err = src2.Password(ctx, "prod")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeIntegrity))
	assert.Contains(t, err.Error(), "prod")
}

func TestSealedSource_ForeignVaultID(t *testing.T) {
	s := newMapStore()
	ctx := context.Background()
	src, err := NewSealedSource(s, "master-pw")
	require.NoError(t, err)

	foreign, err := vaultcrypt.New("master-pw").EncryptSync("pw", "other")
	require.NoError(t, err)
	s.data["prod"] = []byte(foreign)

	_, err = src.Password(ctx, "prod")
	assert.True(t, schema.IsCode(err, schema.ErrCodeFormat))
}

func TestSealedSource_DeleteAndList(t *testing.T) {
	s := newMapStore()
	src, err := NewSealedSource(s, "master-pw")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, src.Put(ctx, "a", "1"))
	require.NoError(t, src.Put(ctx, "b", "2"))
	require.NoError(t, src.Delete(ctx, "a"))

	infos, err := src.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "b", infos[0].VaultID)

	_, err = src.Password(ctx, "a")
	assert.True(t, IsNotFound(err))
}

func TestSealedSource_Validation(t *testing.T) {
	_, err := NewSealedSource(newMapStore(), "")
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfiguration))

	src, err := NewSealedSource(newMapStore(), "m")
	require.NoError(t, err)
	ctx := context.Background()
	assert.True(t, schema.IsCode(src.Put(ctx, "", "pw"), schema.ErrCodeValidation))
	assert.True(t, schema.IsCode(src.Put(ctx, "a;b", "pw"), schema.ErrCodeValidation))
	assert.True(t, schema.IsCode(src.Put(ctx, "a", ""), schema.ErrCodeValidation))
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{"default": "pw", "empty": ""}
	ctx := context.Background()

	pw, err := src.Password(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "pw", pw)

	_, err = src.Password(ctx, "empty")
	assert.True(t, IsNotFound(err))
	_, err = src.Password(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestFixedSource(t *testing.T) {
	ctx := context.Background()

	pw, err := FixedSource("pw").Password(ctx, "any-id")
	require.NoError(t, err)
	assert.Equal(t, "pw", pw)

	_, err = FixedSource("").Password(ctx, "any-id")
	assert.True(t, IsNotFound(err))

	// A fixed password still yields to an exact id match earlier in a chain.
	pw, err = ChainSource{StaticSource{"prod": "p"}, FixedSource("fallback")}.Password(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, "p", pw)
}

type failingSource struct{ err error }

func (f failingSource) Password(context.Context, string) (string, error) { return "", f.err }

func TestChainSource(t *testing.T) {
	ctx := context.Background()
	chain := ChainSource{StaticSource{"a": "from-first"}, StaticSource{"a": "shadowed", "b": "from-second"}}

	pw, err := chain.Password(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "from-first", pw)

	pw, err = chain.Password(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "from-second", pw)

	_, err = chain.Password(ctx, "c")
	assert.True(t, IsNotFound(err))

	boom := schema.NewError(schema.ErrCodeStore, "db down")
	_, err = ChainSource{failingSource{boom}, StaticSource{"a": "x"}}.Password(ctx, "a")
	assert.ErrorIs(t, err, boom)
}

package vaultcrypt

import (
	"context"
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

// Fixed by the Ansible Vault 1.1/1.2 format. Changing any of these breaks
// interoperability with ansible-vault.
const (
	Iterations = 10000
	KeySize    = 32
	HMACSize   = sha256.Size
	IVSize     = 16
	SaltSize   = 32

	derivedLen = 2*KeySize + IVSize
)

// DerivedKey is the per-operation key material split out of one PBKDF2 output.
// CipherKey, HMACKey and IV are non-overlapping views of the same buffer.
type DerivedKey struct {
	CipherKey []byte
	HMACKey   []byte
	IV        []byte

	raw []byte
}

// DeriveKey stretches password and salt into a DerivedKey with
// PBKDF2-HMAC-SHA256. It blocks for the full iteration count.
func DeriveKey(password, salt []byte) (*DerivedKey, error) {
	if len(password) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no password")
	}
	raw := pbkdf2.Key(password, salt, Iterations, derivedLen, sha256.New)
	return &DerivedKey{
		CipherKey: raw[:KeySize],
		HMACKey:   raw[KeySize : 2*KeySize],
		IV:        raw[2*KeySize : derivedLen],
		raw:       raw,
	}, nil
}

// DeriveKeyContext is the non-blocking form of DeriveKey: the derivation runs
// on DefaultPool and the caller stops waiting when ctx ends.
func DeriveKeyContext(ctx context.Context, password, salt []byte) (*DerivedKey, error) {
	return DefaultPool().Derive(ctx, password, salt)
}

// Wipe zeroes the key material. Safe to call on nil and more than once.
func (k *DerivedKey) Wipe() {
	if k == nil {
		return
	}
	clear(k.raw)
}

func cancelled(ctx context.Context) error {
	return schema.NewError(schema.ErrCodeCancelled, "key derivation cancelled").WithCause(ctx.Err())
}

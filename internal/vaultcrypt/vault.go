// Package vaultcrypt encrypts and decrypts secrets in the Ansible Vault 1.1/1.2
// text format (AES-256-CTR, HMAC-SHA256, PBKDF2-SHA256 with 10000 iterations).
package vaultcrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

// BlockSize is the padding block size (one AES block).
const BlockSize = aes.BlockSize

// Vault is bound to one password and is safe for concurrent use: every call
// draws its own salt and derives its own key material.
type Vault struct {
	password []byte
	pool     *Pool
}

// Option configures a Vault.
type Option func(*Vault)

// WithPool runs the context-aware derivations on p instead of DefaultPool.
func WithPool(p *Pool) Option {
	return func(v *Vault) { v.pool = p }
}

// New returns a Vault for password. An empty password is accepted here and
// reported as CONFIGURATION_ERROR by the first operation that needs a key.
func New(password string, opts ...Option) *Vault {
	v := &Vault{password: []byte(password)}
	for _, o := range opts {
		o(v)
	}
	if v.pool == nil {
		v.pool = DefaultPool()
	}
	return v
}

// Encrypt seals secret under vaultID, running key derivation on the pool.
// An empty vaultID produces a 1.1 header.
func (v *Vault) Encrypt(ctx context.Context, secret, vaultID string) (string, error) {
	salt, err := v.prepare(vaultID)
	if err != nil {
		return "", err
	}
	key, err := v.pool.Derive(ctx, v.password, salt)
	if err != nil {
		return "", err
	}
	defer key.Wipe()
	return seal([]byte(secret), vaultID, salt, key)
}

// EncryptSync is Encrypt with key derivation on the calling goroutine.
func (v *Vault) EncryptSync(secret, vaultID string) (string, error) {
	salt, err := v.prepare(vaultID)
	if err != nil {
		return "", err
	}
	key, err := DeriveKey(v.password, salt)
	if err != nil {
		return "", err
	}
	defer key.Wipe()
	return seal([]byte(secret), vaultID, salt, key)
}

// Decrypt opens vault text. When the text carries a vault id, vaultID is
// non-empty and the two differ, decryption is skipped and ok is false with a
// nil error.
func (v *Vault) Decrypt(ctx context.Context, text, vaultID string) (plaintext string, ok bool, err error) {
	b, ok, err := open(text, vaultID)
	if err != nil || !ok {
		return "", ok, err
	}
	key, err := v.pool.Derive(ctx, v.password, b.salt)
	if err != nil {
		return "", false, err
	}
	defer key.Wipe()
	pt, err := decipher(b, key)
	if err != nil {
		return "", false, err
	}
	return string(pt), true, nil
}

// DecryptSync is Decrypt with key derivation on the calling goroutine.
func (v *Vault) DecryptSync(text, vaultID string) (plaintext string, ok bool, err error) {
	b, ok, err := open(text, vaultID)
	if err != nil || !ok {
		return "", ok, err
	}
	key, err := DeriveKey(v.password, b.salt)
	if err != nil {
		return "", false, err
	}
	defer key.Wipe()
	pt, err := decipher(b, key)
	if err != nil {
		return "", false, err
	}
	return string(pt), true, nil
}

func (v *Vault) prepare(vaultID string) ([]byte, error) {
	if err := ValidateVaultID(vaultID); err != nil {
		return nil, err
	}
	if len(v.password) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no password")
	}
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// open parses the envelope. The header is checked before anything else so
// non-vault input never reaches key derivation.
func open(text, vaultID string) (body, bool, error) {
	line, blob := splitEnvelope(text)
	h, err := ParseHeader(line)
	if err != nil {
		return body{}, false, err
	}
	if h.VaultID != "" && vaultID != "" && h.VaultID != vaultID {
		return body{}, false, nil
	}
	b, err := unpack(blob)
	if err != nil {
		return body{}, false, err
	}
	return b, true, nil
}

func seal(plaintext []byte, vaultID string, salt []byte, key *DerivedKey) (string, error) {
	padding, err := Pad(len(plaintext), BlockSize)
	if err != nil {
		return "", err
	}
	padded := make([]byte, 0, len(plaintext)+len(padding))
	padded = append(append(padded, plaintext...), padding...)
	defer clear(padded)

	stream, err := newCTR(key)
	if err != nil {
		return "", err
	}
	ciphertext := make([]byte, len(padded))
	stream.XORKeyStream(ciphertext, padded)

	b := body{salt: salt, hmac: mac(key.HMACKey, ciphertext), ciphertext: ciphertext}
	return pack(NewHeader(vaultID), b), nil
}

// decipher authenticates the ciphertext before decrypting it.
func decipher(b body, key *DerivedKey) ([]byte, error) {
	if !hmac.Equal(mac(key.HMACKey, b.ciphertext), b.hmac) {
		return nil, schema.NewError(schema.ErrCodeIntegrity, "Integrity check failed")
	}
	stream, err := newCTR(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(b.ciphertext))
	stream.XORKeyStream(plaintext, b.ciphertext)
	return Unpad(plaintext, BlockSize), nil
}

func newCTR(key *DerivedKey) (cipher.Stream, error) {
	block, err := aes.NewCipher(key.CipherKey)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	return cipher.NewCTR(block, key.IV), nil
}

func mac(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

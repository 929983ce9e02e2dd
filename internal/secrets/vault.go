package secrets

import (
	"context"
	"errors"

	"github.com/rendis/vaultcrypt/internal/store"
	"github.com/rendis/vaultcrypt/pkg/schema"
)

// PasswordSource supplies the password for a vault id. A source that does not
// know an id returns a NOT_FOUND error.
type PasswordSource interface {
	Password(ctx context.Context, vaultID string) (string, error)
}

// PasswordStore is the minimal persistence interface needed by SealedSource.
// Satisfied by store.Store.
type PasswordStore interface {
	StorePassword(ctx context.Context, vaultID string, sealed []byte) error
	GetPassword(ctx context.Context, vaultID string) ([]byte, error)
	DeletePassword(ctx context.Context, vaultID string) error
	ListPasswords(ctx context.Context) ([]*store.PasswordInfo, error)
}

// StaticSource serves passwords from a fixed map (flags, env, settings).
type StaticSource map[string]string

func (s StaticSource) Password(_ context.Context, vaultID string) (string, error) {
	if pw, ok := s[vaultID]; ok && pw != "" {
		return pw, nil
	}
	return "", notFound(vaultID)
}

// FixedSource serves one password for every vault id, as a single
// --password-file or env password does.
type FixedSource string

func (s FixedSource) Password(_ context.Context, vaultID string) (string, error) {
	if s == "" {
		return "", notFound(vaultID)
	}
	return string(s), nil
}

// ChainSource asks each source in order and returns the first password found.
// Errors other than NOT_FOUND stop the chain.
type ChainSource []PasswordSource

func (c ChainSource) Password(ctx context.Context, vaultID string) (string, error) {
	for _, src := range c {
		pw, err := src.Password(ctx, vaultID)
		if err == nil {
			return pw, nil
		}
		if !schema.IsCode(err, schema.ErrCodeNotFound) {
			return "", err
		}
	}
	return "", notFound(vaultID)
}

// IsNotFound reports whether err means the vault id has no password.
func IsNotFound(err error) bool {
	return schema.IsCode(err, schema.ErrCodeNotFound)
}

var errEmptyPassword = errors.New("password is empty")

func notFound(vaultID string) error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "no password for vault id %q", vaultID).WithVault(vaultID)
}

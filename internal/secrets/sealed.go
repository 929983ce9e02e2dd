package secrets

import (
	"context"
	"errors"

	"github.com/rendis/vaultcrypt/internal/store"
	"github.com/rendis/vaultcrypt/internal/vaultcrypt"
	"github.com/rendis/vaultcrypt/pkg/schema"
)

// MasterVaultID is the vault id stored passwords are sealed under.
const MasterVaultID = "master"

// SealedSource keeps vault passwords in a PasswordStore, each sealed as vault
// text under a master password, and opens them on demand.
type SealedSource struct {
	store  PasswordStore
	master *vaultcrypt.Vault
}

// NewSealedSource creates a SealedSource. The master password is required.
func NewSealedSource(s PasswordStore, masterPassword string, opts ...vaultcrypt.Option) (*SealedSource, error) {
	if masterPassword == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "master password is required")
	}
	return &SealedSource{store: s, master: vaultcrypt.New(masterPassword, opts...)}, nil
}

// Put seals password and stores it under vaultID, replacing any previous one.
func (s *SealedSource) Put(ctx context.Context, vaultID, password string) error {
	if vaultID == "" {
		return schema.NewError(schema.ErrCodeValidation, "vault id is required")
	}
	if err := vaultcrypt.ValidateVaultID(vaultID); err != nil {
		return err
	}
	if password == "" {
		return schema.NewError(schema.ErrCodeValidation, "password is required").
			WithVault(vaultID).WithCause(errEmptyPassword)
	}
	sealed, err := s.master.Encrypt(ctx, password, MasterVaultID)
	if err != nil {
		return err
	}
	return s.store.StorePassword(ctx, vaultID, []byte(sealed))
}

// Password opens the stored password for vaultID. A wrong master password
// surfaces as INTEGRITY_ERROR.
func (s *SealedSource) Password(ctx context.Context, vaultID string) (string, error) {
	sealed, err := s.store.GetPassword(ctx, vaultID)
	if err != nil {
		return "", err
	}
	pw, ok, err := s.master.Decrypt(ctx, string(sealed), MasterVaultID)
	if err != nil {
		var verr *schema.VaultError
		if errors.As(err, &verr) && verr.VaultID == "" {
			verr.WithVault(vaultID)
		}
		return "", err
	}
	if !ok {
		return "", schema.NewError(schema.ErrCodeFormat, "stored password is not sealed under the master vault id").
			WithVault(vaultID)
	}
	return pw, nil
}

// Delete removes the stored password for vaultID.
func (s *SealedSource) Delete(ctx context.Context, vaultID string) error {
	return s.store.DeletePassword(ctx, vaultID)
}

// List returns the vault ids that have a stored password.
func (s *SealedSource) List(ctx context.Context) ([]*store.PasswordInfo, error) {
	return s.store.ListPasswords(ctx)
}

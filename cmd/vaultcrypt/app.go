package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rendis/vaultcrypt/internal/keyring"
	"github.com/rendis/vaultcrypt/internal/logging"
	"github.com/rendis/vaultcrypt/internal/secrets"
	"github.com/rendis/vaultcrypt/internal/store"
	"github.com/rendis/vaultcrypt/internal/validation"
	"github.com/rendis/vaultcrypt/internal/vaultcrypt"
)

// app carries the configuration and lazily opened resources shared by all
// subcommands.
type app struct {
	cfg       Config
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
	logger    *slog.Logger
	validator *validation.JSONSchemaValidator
	pool      *vaultcrypt.Pool

	// prompt reads a secret without echo. Nil when no terminal is attached.
	prompt func(label string) (string, error)

	store *store.LibSQLStore
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) (*app, error) {
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("init validator: %w", err)
	}
	cfg, warnings := loadConfig(v)

	logger := logging.New(stderr, cfg.LogLevel)
	for _, w := range warnings {
		logger.Warn(w)
	}

	a := &app{
		cfg:       cfg,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		logger:    logger,
		validator: v,
		pool:      vaultcrypt.DefaultPool(),
	}
	if cfg.KDFWorkers > 0 {
		a.pool = vaultcrypt.NewPool(cfg.KDFWorkers)
	}
	if f, ok := stdin.(*os.File); ok {
		a.prompt = terminalPrompt(f, stderr)
	}
	return a, nil
}

// Close releases the store and a dedicated KDF pool.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", slog.String("error", err.Error()))
		}
	}
	if a.pool != vaultcrypt.DefaultPool() {
		a.pool.Shutdown()
	}
}

// openStore opens and migrates the libsql database on first use.
func (a *app) openStore(ctx context.Context) (*store.LibSQLStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	path := strings.TrimPrefix(a.cfg.DBPath, "file:")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	s, err := store.NewLibSQLStore("file:" + path)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	a.store = s
	return s, nil
}

// sealedSource opens the password store. With ask set, a missing master
// password is prompted for; otherwise the store is skipped (nil, nil).
func (a *app) sealedSource(ctx context.Context, ask bool) (*secrets.SealedSource, error) {
	master := a.cfg.MasterPassword
	if master == "" && ask {
		if a.prompt == nil {
			return nil, fmt.Errorf("master password required: set VAULTCRYPT_MASTER_PASSWORD")
		}
		pw, err := a.prompt("Master password: ")
		if err != nil {
			return nil, err
		}
		master = pw
	}
	if master == "" {
		return nil, nil
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	return secrets.NewSealedSource(s, master, vaultcrypt.WithPool(a.pool))
}

// keyring builds the keyring for one command. Password sources are tried in
// order: --vault-id pairs, --password-file, VAULTCRYPT_PASSWORD, the sealed
// store, then a terminal prompt.
func (a *app) keyring(ctx context.Context, pf *passwordFlags) (*keyring.Keyring, error) {
	var chain secrets.ChainSource

	pairs, err := pf.pairs()
	if err != nil {
		return nil, err
	}
	if len(pairs) > 0 {
		chain = append(chain, pairs)
	}
	if pf.file != "" {
		pw, err := readPasswordFile(pf.file)
		if err != nil {
			return nil, err
		}
		chain = append(chain, secrets.FixedSource(pw))
	}
	if pw := os.Getenv("VAULTCRYPT_PASSWORD"); pw != "" {
		chain = append(chain, secrets.FixedSource(pw))
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	sealed, err := a.sealedSource(ctx, false)
	if err != nil {
		return nil, err
	}
	deps := keyring.Deps{
		Audit:          s,
		Pool:           a.pool,
		Logger:         a.logger,
		DefaultVaultID: a.cfg.DefaultVaultID,
	}
	if sealed != nil {
		chain = append(chain, sealed)
		deps.Manager = sealed
	}
	if a.prompt != nil {
		chain = append(chain, newPromptSource(a.prompt))
	}
	deps.Source = chain

	return keyring.New(deps), nil
}

// readPasswordFile returns the first line of path, as ansible-vault does.
func readPasswordFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read password file: %w", err)
	}
	pw, _, _ := strings.Cut(string(data), "\n")
	pw = strings.TrimRight(pw, "\r")
	if pw == "" {
		return "", fmt.Errorf("password file %s is empty", path)
	}
	return pw, nil
}

// readInput reads path, or stdin when path is empty or "-".
func (a *app) readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(a.stdin)
	}
	return os.ReadFile(path)
}

// writeOutput writes data to path (mode 0600), or stdout when path is empty or "-".
func (a *app) writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := a.stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

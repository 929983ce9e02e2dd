package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

// terminalPrompt returns a no-echo reader bound to in, or nil when in is not
// a terminal.
func terminalPrompt(in *os.File, out io.Writer) func(string) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	return func(label string) (string, error) {
		fmt.Fprint(out, label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
}

// promptSource asks once per vault id and remembers the answer for the
// lifetime of the command.
type promptSource struct {
	read func(string) (string, error)

	mu    sync.Mutex
	cache map[string]string
}

func newPromptSource(read func(string) (string, error)) *promptSource {
	return &promptSource{read: read, cache: make(map[string]string)}
}

func (p *promptSource) Password(_ context.Context, vaultID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pw, ok := p.cache[vaultID]; ok {
		return pw, nil
	}
	pw, err := p.read(fmt.Sprintf("Vault password (%s): ", vaultID))
	if err != nil {
		return "", err
	}
	if pw == "" {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "no password entered for vault id %q", vaultID).
			WithVault(vaultID)
	}
	p.cache[vaultID] = pw
	return pw, nil
}

package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/rendis/vaultcrypt/internal/secrets"
)

// vaultIDList collects repeated --vault-id id@file flags.
type vaultIDList []string

func (l *vaultIDList) String() string { return strings.Join(*l, ",") }

func (l *vaultIDList) Set(v string) error {
	id, file, ok := strings.Cut(v, "@")
	if !ok || id == "" || file == "" {
		return fmt.Errorf("expected id@file, got %q", v)
	}
	*l = append(*l, v)
	return nil
}

// passwordFlags are the password options shared by every vault command.
type passwordFlags struct {
	file     string
	vaultIDs vaultIDList
}

func (p *passwordFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&p.file, "password-file", "", "file holding the vault password, used for any vault id")
	fs.Var(&p.vaultIDs, "vault-id", "id@file naming the password file for one vault id (repeatable)")
}

// pairs reads the --vault-id password files.
func (p *passwordFlags) pairs() (secrets.StaticSource, error) {
	src := make(secrets.StaticSource, len(p.vaultIDs))
	for _, v := range p.vaultIDs {
		id, file, _ := strings.Cut(v, "@")
		pw, err := readPasswordFile(file)
		if err != nil {
			return nil, fmt.Errorf("vault id %s: %w", id, err)
		}
		src[id] = pw
	}
	return src, nil
}

// ioFlags are the --in and --out options.
type ioFlags struct {
	in  string
	out string
}

func (f *ioFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.in, "in", "", "input file (default: stdin)")
	fs.StringVar(&f.out, "out", "", "output file (default: stdout)")
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

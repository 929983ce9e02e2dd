package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rendis/vaultcrypt/internal/document"
	"github.com/rendis/vaultcrypt/internal/keyring"
	"github.com/rendis/vaultcrypt/internal/scheduler"
	"github.com/rendis/vaultcrypt/internal/vaultcrypt"
	vaultmcp "github.com/rendis/vaultcrypt/pkg/mcp"
)

func runEncrypt(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "encrypt")
	var iof ioFlags
	var pf passwordFlags
	iof.register(fs)
	pf.register(fs)
	id := fs.String("id", "", "vault id to encrypt under (default: configured default id)")
	name := fs.String("name", "", "emit a YAML variable block with this name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var secret string
	if fs.NArg() > 0 {
		secret = strings.Join(fs.Args(), " ")
	} else {
		data, err := a.readInput(iof.in)
		if err != nil {
			return err
		}
		secret = string(data)
	}

	kr, err := a.keyring(ctx, &pf)
	if err != nil {
		return err
	}
	text, err := kr.Encrypt(ctx, secret, *id)
	if err != nil {
		return err
	}

	out := text + "\n"
	if *name != "" {
		out = vaultYAML(*name, text)
	}
	return a.writeOutput(iof.out, []byte(out))
}

// vaultYAML renders text as an inline vault variable, the form
// ansible-vault encrypt_string --name produces.
func vaultYAML(name, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: !vault |\n", name)
	for _, line := range strings.Split(text, "\n") {
		b.WriteString("          " + line + "\n")
	}
	return b.String()
}

func runDecrypt(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "decrypt")
	var iof ioFlags
	var pf passwordFlags
	iof.register(fs)
	pf.register(fs)
	id := fs.String("id", "", "only decrypt text labelled with this vault id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := a.readInput(iof.in)
	if err != nil {
		return err
	}
	kr, err := a.keyring(ctx, &pf)
	if err != nil {
		return err
	}

	if *id == "" {
		pt, err := kr.Decrypt(ctx, string(data))
		if err != nil {
			return err
		}
		return a.writeOutput(iof.out, []byte(pt))
	}

	pt, ok, err := kr.DecryptWith(ctx, string(data), *id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("vault text is not labelled with vault id %q", *id)
	}
	return a.writeOutput(iof.out, []byte(pt))
}

func runView(_ context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "view")
	in := fs.String("in", "", "input file (default: stdin)")
	asJSON := fs.Bool("json", false, "print the header as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	data, err := a.readInput(*in)
	if err != nil {
		return err
	}
	h, err := vaultcrypt.Inspect(string(data))
	if err != nil {
		return err
	}

	if *asJSON {
		out, err := json.Marshal(h)
		if err != nil {
			return err
		}
		return a.writeOutput("", append(out, '\n'))
	}
	fmt.Fprintf(a.stdout, "version:  %s\ncipher:   %s\n", h.Version, h.Cipher)
	if h.VaultID != "" {
		fmt.Fprintf(a.stdout, "vault id: %s\n", h.VaultID)
	}
	return nil
}

func runRekey(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "rekey")
	var iof ioFlags
	var pf passwordFlags
	iof.register(fs)
	pf.register(fs)
	newID := fs.String("new-id", "", "vault id to re-encrypt under (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *newID == "" {
		return fmt.Errorf("--new-id is required")
	}

	data, err := a.readInput(iof.in)
	if err != nil {
		return err
	}
	kr, err := a.keyring(ctx, &pf)
	if err != nil {
		return err
	}
	text, err := kr.Rekey(ctx, string(data), *newID)
	if err != nil {
		return err
	}
	return a.writeOutput(iof.out, []byte(text+"\n"))
}

func runDocEncrypt(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "doc-encrypt")
	var iof ioFlags
	var pf passwordFlags
	iof.register(fs)
	pf.register(fs)
	path := fs.String("path", "", "jq path expression selecting the values to encrypt (required)")
	id := fs.String("id", "", "vault id to encrypt under (default: configured default id)")
	schemaFile := fs.String("schema", "", "JSON Schema the document must satisfy")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return fmt.Errorf("--path is required")
	}

	doc, err := a.readDocument(iof.in, *schemaFile)
	if err != nil {
		return err
	}
	kr, err := a.keyring(ctx, &pf)
	if err != nil {
		return err
	}

	w := document.NewWalker(a.validator)
	done, err := w.EncryptPaths(ctx, doc, *path, func(ctx context.Context, s string) (string, error) {
		return kr.Encrypt(ctx, s, *id)
	})
	if err != nil {
		return err
	}
	a.logger.Info("encrypted document values", slog.Int("count", len(done)))
	return a.writeDocument(iof.out, doc)
}

func runDocDecrypt(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "doc-decrypt")
	var iof ioFlags
	var pf passwordFlags
	iof.register(fs)
	pf.register(fs)
	list := fs.Bool("list", false, "only list the paths holding vault text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	doc, err := a.readDocument(iof.in, "")
	if err != nil {
		return err
	}
	w := document.NewWalker(a.validator)

	if *list {
		paths, err := w.Find(ctx, doc)
		if err != nil {
			return err
		}
		var b strings.Builder
		for _, p := range paths {
			b.WriteString(p + "\n")
		}
		return a.writeOutput(iof.out, []byte(b.String()))
	}

	kr, err := a.keyring(ctx, &pf)
	if err != nil {
		return err
	}
	done, err := w.DecryptAll(ctx, doc, kr.Decrypt)
	if err != nil {
		return err
	}
	a.logger.Info("decrypted document values", slog.Int("count", len(done)))
	return a.writeDocument(iof.out, doc)
}

// readDocument decodes a JSON object and validates it, against schemaFile too
// when given.
func (a *app) readDocument(in, schemaFile string) (map[string]any, error) {
	data, err := a.readInput(in)
	if err != nil {
		return nil, err
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	var docSchema []byte
	if schemaFile != "" {
		if docSchema, err = os.ReadFile(schemaFile); err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
	}
	if err := a.validator.ValidateDocument(raw, docSchema); err != nil {
		return nil, err
	}
	doc, _ := raw.(map[string]any)
	return doc, nil
}

func (a *app) writeDocument(out string, doc map[string]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return a.writeOutput(out, buf.Bytes())
}

func runPassword(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: vaultcrypt password add|rm|ls [flags]")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "ls", "list":
		s, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		infos, err := s.ListPasswords(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VAULT ID\tCREATED\tROTATED")
		for _, info := range infos {
			rotated := "-"
			if info.RotatedAt != nil {
				rotated = info.RotatedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", info.VaultID, info.CreatedAt.Format(time.RFC3339), rotated)
		}
		return tw.Flush()

	case "add":
		fs := newFlagSet(a, "password add")
		file := fs.String("password-file", "", "file holding the password to store (default: prompt)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: vaultcrypt password add [--password-file f] <vault-id>")
		}
		vaultID := fs.Arg(0)

		pw, err := a.newPassword(vaultID, *file)
		if err != nil {
			return err
		}
		kr, err := a.managerKeyring(ctx)
		if err != nil {
			return err
		}
		if err := kr.PutPassword(ctx, vaultID, pw); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "stored password for vault id %s\n", vaultID)
		return nil

	case "rm", "remove":
		if len(rest) != 1 {
			return fmt.Errorf("usage: vaultcrypt password rm <vault-id>")
		}
		kr, err := a.managerKeyring(ctx)
		if err != nil {
			return err
		}
		if err := kr.DeletePassword(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "removed password for vault id %s\n", rest[0])
		return nil

	default:
		return fmt.Errorf("unknown password command %q: must be add, rm, or ls", sub)
	}
}

// newPassword reads the password to store from file, or prompts twice.
func (a *app) newPassword(vaultID, file string) (string, error) {
	if file != "" {
		return readPasswordFile(file)
	}
	if a.prompt == nil {
		return "", fmt.Errorf("--password-file is required when no terminal is attached")
	}
	pw, err := a.prompt(fmt.Sprintf("New password (%s): ", vaultID))
	if err != nil {
		return "", err
	}
	confirm, err := a.prompt("Confirm password: ")
	if err != nil {
		return "", err
	}
	if pw != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return pw, nil
}

// managerKeyring is a keyring over the sealed store, for password management.
func (a *app) managerKeyring(ctx context.Context) (*keyring.Keyring, error) {
	sealed, err := a.sealedSource(ctx, true)
	if err != nil {
		return nil, err
	}
	if sealed == nil {
		return nil, fmt.Errorf("master password required")
	}
	return keyring.New(keyring.Deps{
		Source:         sealed,
		Manager:        sealed,
		Audit:          a.store,
		Pool:           a.pool,
		Logger:         a.logger,
		DefaultVaultID: a.cfg.DefaultVaultID,
	}), nil
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "serve")
	var pf passwordFlags
	pf.register(fs)
	noPrune := fs.Bool("no-prune", false, "disable the scheduled audit pruner")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// stdin carries the MCP transport.
	a.prompt = nil

	kr, err := a.keyring(ctx, &pf)
	if err != nil {
		return err
	}

	if !*noPrune {
		p, err := scheduler.NewPruner(a.store, a.cfg.AuditPruneSchedule, time.Duration(a.cfg.AuditRetention), a.logger)
		if err != nil {
			return err
		}
		if err := p.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := p.Stop(); err != nil {
				a.logger.Warn("failed to stop pruner", slog.String("error", err.Error()))
			}
		}()
	}

	srv := vaultmcp.NewVaultServer(vaultmcp.VaultServerDeps{
		Keyring: kr,
		Audit:   a.store,
		Logger:  a.logger,
		Version: version,
	})
	a.logger.Info("mcp server listening on stdio", slog.String("version", version))
	return srv.Serve(ctx)
}

func runPrune(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "prune")
	retention := fs.Duration("retention", time.Duration(a.cfg.AuditRetention), "delete audit events older than this")
	vacuum := fs.Bool("vacuum", false, "compact the database afterwards")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	p, err := scheduler.NewPruner(s, a.cfg.AuditPruneSchedule, *retention, a.logger)
	if err != nil {
		return err
	}
	n, err := p.RunOnce(ctx)
	if err != nil {
		return err
	}
	if *vacuum {
		if err := s.Vacuum(ctx); err != nil {
			return err
		}
	}
	fmt.Fprintf(a.stdout, "pruned %d audit events\n", n)
	return nil
}

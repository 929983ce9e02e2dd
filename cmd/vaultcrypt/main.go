package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// command runs one subcommand with its own flag set.
type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"encrypt":     runEncrypt,
	"decrypt":     runDecrypt,
	"view":        runView,
	"rekey":       runRekey,
	"doc-encrypt": runDocEncrypt,
	"doc-decrypt": runDocDecrypt,
	"password":    runPassword,
	"serve":       runServe,
	"prune":       runPrune,
}

const usageText = `Usage: vaultcrypt <command> [flags]

Commands:
  encrypt       encrypt input as Ansible Vault text
  decrypt       decrypt Ansible Vault text
  view          print the vault header without decrypting
  rekey         re-encrypt vault text under another vault id
  doc-encrypt   encrypt values of a JSON document selected by a jq path
  doc-decrypt   decrypt every vault value in a JSON document
  password      manage stored passwords: add, rm, ls
  serve         run the MCP server on stdio
  prune         delete audit events older than the retention window
  version       print the version

Run "vaultcrypt <command> -h" for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches args to a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	name, rest := args[0], args[1:]
	switch name {
	case "version", "-v", "--version":
		printVersion(stdout)
		return 0
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n%s", name, usageText)
		return 2
	}

	a, err := newApp(stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := cmd(ctx, a, rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

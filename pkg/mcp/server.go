package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/vaultcrypt/internal/store"
	"github.com/rendis/vaultcrypt/internal/vaultcrypt"
)

// Keyring is the vault service the tools drive. Satisfied by *keyring.Keyring.
type Keyring interface {
	Encrypt(ctx context.Context, secret, vaultID string) (string, error)
	Decrypt(ctx context.Context, text string) (string, error)
	DecryptWith(ctx context.Context, text, vaultID string) (string, bool, error)
	Rekey(ctx context.Context, text, newVaultID string) (string, error)
	Inspect(text string) (vaultcrypt.Header, error)
	PutPassword(ctx context.Context, vaultID, password string) error
	DeletePassword(ctx context.Context, vaultID string) error
	ListPasswords(ctx context.Context) ([]*store.PasswordInfo, error)
}

// AuditReader lists audit events. Satisfied by store.Store.
type AuditReader interface {
	ListAudit(ctx context.Context, filter store.AuditFilter) ([]*store.AuditEvent, error)
}

// VaultServerDeps holds the dependencies for creating a VaultServer.
type VaultServerDeps struct {
	Keyring Keyring
	Audit   AuditReader
	Logger  *slog.Logger
	Version string
}

// VaultServer wraps an MCP server with vault tool handlers.
type VaultServer struct {
	keyring   Keyring
	audit     AuditReader
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewVaultServer creates a new VaultServer with all tools registered.
func NewVaultServer(deps VaultServerDeps) *VaultServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &VaultServer{
		keyring: deps.Keyring,
		audit:   deps.Audit,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"vaultcrypt",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("vaultcrypt encrypts and decrypts Ansible Vault (1.1/1.2 AES256) text. Use vault.encrypt and vault.decrypt for values, vault.rekey to move a value to another vault id, vault.inspect to read a header without a password, vault.passwords to manage stored passwords, and vault.audit to review past operations. Plaintext is never logged."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *VaultServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *VaultServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *VaultServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: encryptTool(), Handler: s.handleEncrypt},
		{Tool: decryptTool(), Handler: s.handleDecrypt},
		{Tool: rekeyTool(), Handler: s.handleRekey},
		{Tool: inspectTool(), Handler: s.handleInspect},
		{Tool: passwordsTool(), Handler: s.handlePasswords},
		{Tool: auditTool(), Handler: s.handleAudit},
	}
}

// --- Tool definitions ---

func encryptTool() mcp.Tool {
	return mcp.NewTool("vault.encrypt",
		mcp.WithDescription("Encrypt a secret as Ansible Vault text"),
		mcp.WithString("secret", mcp.Required(), mcp.Description("Plaintext to encrypt")),
		mcp.WithString("vault_id", mcp.Description("Vault id whose password is used (default: configured default id)")),
	)
}

func decryptTool() mcp.Tool {
	return mcp.NewTool("vault.decrypt",
		mcp.WithDescription("Decrypt Ansible Vault text"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Vault text including the $ANSIBLE_VAULT header")),
		mcp.WithString("vault_id", mcp.Description("Only decrypt if the text is labelled with this vault id")),
	)
}

func rekeyTool() mcp.Tool {
	return mcp.NewTool("vault.rekey",
		mcp.WithDescription("Re-encrypt Ansible Vault text under another vault id"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Vault text to re-encrypt")),
		mcp.WithString("new_vault_id", mcp.Required(), mcp.Description("Target vault id")),
	)
}

func inspectTool() mcp.Tool {
	return mcp.NewTool("vault.inspect",
		mcp.WithDescription("Read the header of Ansible Vault text without decrypting"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Vault text")),
	)
}

func passwordsTool() mcp.Tool {
	return mcp.NewTool("vault.passwords",
		mcp.WithDescription("List, store or delete vault passwords"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("list", "put", "delete"),
			mcp.Description("Operation to perform"),
		),
		mcp.WithString("vault_id", mcp.Description("Vault id (required for put and delete)")),
		mcp.WithString("password", mcp.Description("Password to store (required for put)")),
	)
}

func auditTool() mcp.Tool {
	return mcp.NewTool("vault.audit",
		mcp.WithDescription("Query the audit log of vault operations"),
		mcp.WithObject("filter", mcp.Description("Filter criteria (operation, vault_id, outcome, since, limit)")),
	)
}

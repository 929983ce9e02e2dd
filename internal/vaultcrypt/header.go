package vaultcrypt

import (
	"strings"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

// Header literals of the Ansible Vault envelope.
const (
	HeaderTag    = "$ANSIBLE_VAULT"
	CipherAES256 = "AES256"
	Version11    = "1.1"
	Version12    = "1.2"
)

// Header is the metadata on the first line of vault text. VaultID is only
// ever set for version 1.2.
type Header struct {
	Version string `json:"version"`
	Cipher  string `json:"cipher"`
	VaultID string `json:"vault_id,omitempty"`
}

// NewHeader returns the header Encrypt writes for vaultID: 1.2 with the id
// when one is given, 1.1 otherwise.
func NewHeader(vaultID string) Header {
	if vaultID != "" {
		return Header{Version: Version12, Cipher: CipherAES256, VaultID: vaultID}
	}
	return Header{Version: Version11, Cipher: CipherAES256}
}

// String renders the header line without a trailing newline.
func (h Header) String() string {
	parts := []string{HeaderTag, h.Version, h.Cipher}
	if h.VaultID != "" {
		parts = append(parts, h.VaultID)
	}
	return strings.Join(parts, ";")
}

// ParseHeader parses a vault header line. Any deviation from
// "$ANSIBLE_VAULT;1.1;AES256" or "$ANSIBLE_VAULT;1.2;AES256[;<id>]" is a
// FORMAT_ERROR. Only a trailing carriage return is stripped; the vault id is
// kept byte for byte.
func ParseHeader(line string) (Header, error) {
	fields := strings.Split(strings.TrimSuffix(line, "\r"), ";")
	if len(fields) < 3 || fields[0] != HeaderTag || fields[2] != CipherAES256 {
		return Header{}, badHeader(line)
	}
	h := Header{Version: fields[1], Cipher: fields[2]}
	switch {
	case h.Version == Version11 && len(fields) == 3:
	case h.Version == Version12 && len(fields) <= 4:
		if len(fields) == 4 {
			h.VaultID = fields[3]
		}
	default:
		return Header{}, badHeader(line)
	}
	return h, nil
}

// Inspect parses the header of vault text without touching the body.
func Inspect(text string) (Header, error) {
	line, _ := splitEnvelope(text)
	return ParseHeader(line)
}

// IsEncrypted reports whether text looks like vault text.
func IsEncrypted(text string) bool {
	return strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), HeaderTag+";")
}

// ValidateVaultID rejects ids that cannot be written into a header line.
func ValidateVaultID(vaultID string) error {
	if strings.ContainsAny(vaultID, ";\r\n") {
		return schema.NewErrorf(schema.ErrCodeValidation, "vault id %q must not contain ';' or line breaks", vaultID)
	}
	return nil
}

func badHeader(line string) error {
	return schema.NewError(schema.ErrCodeFormat, "Bad vault header").
		WithDetails(map[string]any{"header": truncate(line, 64)})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

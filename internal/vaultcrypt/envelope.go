package vaultcrypt

import (
	"strings"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

// LineWidth is the column at which the hex body is wrapped.
const LineWidth = 80

// body is the unpacked vault payload.
type body struct {
	salt       []byte
	hmac       []byte
	ciphertext []byte
}

// pack frames the three raw fields as vault text: each field is hexed, the
// fields are joined with newlines, the result is hexed again and wrapped.
func pack(h Header, b body) string {
	inner := strings.Join([]string{Hexlify(b.salt), Hexlify(b.hmac), Hexlify(b.ciphertext)}, "\n")
	outer := Hexlify([]byte(inner))

	var sb strings.Builder
	sb.Grow(len(outer) + len(outer)/LineWidth + 64)
	sb.WriteString(h.String())
	for i := 0; i < len(outer); i += LineWidth {
		sb.WriteByte('\n')
		sb.WriteString(outer[i:min(i+LineWidth, len(outer))])
	}
	return sb.String()
}

// splitEnvelope returns the header line and the body lines concatenated with
// all whitespace removed. LF and CRLF line endings are both accepted.
func splitEnvelope(text string) (string, string) {
	text = strings.TrimLeft(text, " \t\r\n")
	line, rest, _ := strings.Cut(text, "\n")
	return strings.TrimRight(line, "\r"), strings.Join(strings.Fields(rest), "")
}

// unpack decodes the hex body into its three raw fields.
func unpack(blob string) (body, error) {
	if blob == "" {
		return body{}, invalidVault("empty body", nil)
	}
	inner, err := Unhexlify(blob)
	if err != nil {
		return body{}, invalidVault("body is not hex", err)
	}
	fields := strings.Split(strings.ReplaceAll(string(inner), "\r\n", "\n"), "\n")
	if len(fields) != 3 {
		return body{}, invalidVault("expected salt, hmac and ciphertext", nil)
	}
	var raw [3][]byte
	for i, f := range fields {
		if f == "" {
			return body{}, invalidVault("empty field", nil)
		}
		if raw[i], err = Unhexlify(f); err != nil {
			return body{}, invalidVault("field is not hex", err)
		}
	}
	return body{salt: raw[0], hmac: raw[1], ciphertext: raw[2]}, nil
}

func invalidVault(reason string, cause error) error {
	e := schema.NewError(schema.ErrCodeFormat, "Invalid vault").
		WithDetails(map[string]any{"reason": reason})
	if cause != nil {
		e = e.WithCause(cause)
	}
	return e
}

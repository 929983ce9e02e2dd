package vaultcrypt

import (
	"encoding/hex"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

// Hexlify renders b as lowercase hex, two digits per byte.
func Hexlify(b []byte) string {
	return hex.EncodeToString(b)
}

// Unhexlify is the inverse of Hexlify. Odd-length or non-hex input is a FORMAT_ERROR.
func Unhexlify(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeFormat, "malformed hex: %s", err.Error()).WithCause(err)
	}
	return b, nil
}

package vaultcrypt

import (
	"bytes"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

// maxPadBlock is the largest block size whose padding length fits in one byte.
// A 256-byte block would need a pad value of 256, which wraps to 0.
const maxPadBlock = 255

// Pad returns the PKCS#7 padding for data of length dataLen. Already aligned
// data gets a full block of padding.
func Pad(dataLen, blockSize int) ([]byte, error) {
	if blockSize > maxPadBlock {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "block size too large to pad: %d", blockSize)
	}
	if blockSize < 1 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid block size: %d", blockSize)
	}
	n := blockSize - dataLen%blockSize
	return bytes.Repeat([]byte{byte(n)}, n), nil
}

// Unpad strips PKCS#7 padding from data. Input that does not look padded is
// returned unchanged; the HMAC check, not this function, decides whether a
// vault body is valid.
func Unpad(data []byte, blockSize int) []byte {
	if len(data) == 0 {
		return data
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return data
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return data
		}
	}
	return data[:len(data)-n]
}

package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeFormat        = "FORMAT_ERROR"
	ErrCodeIntegrity     = "INTEGRITY_ERROR"
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeCancelled     = "CANCELLED"
	ErrCodeStore         = "STORE_ERROR"
)

// VaultError is the structured error type for all vaultcrypt operations.
type VaultError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	VaultID string         `json:"vault_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *VaultError) Error() string {
	if e.VaultID != "" {
		return fmt.Sprintf("[%s] vault %s: %s", e.Code, e.VaultID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *VaultError) Unwrap() error {
	return e.Cause
}

// NewError creates a new VaultError.
func NewError(code, message string) *VaultError {
	return &VaultError{Code: code, Message: message}
}

// NewErrorf creates a new VaultError with a formatted message.
func NewErrorf(code, format string, args ...any) *VaultError {
	return &VaultError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithVault attaches a vault ID to the error.
func (e *VaultError) WithVault(vaultID string) *VaultError {
	e.VaultID = vaultID
	return e
}

// WithCause attaches an underlying cause.
func (e *VaultError) WithCause(err error) *VaultError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *VaultError) WithDetails(details map[string]any) *VaultError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first VaultError in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var verr *VaultError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

package schema

// Audit operation names recorded in the audit log.
const (
	OpEncrypt = "encrypt"
	OpDecrypt = "decrypt"
	OpRekey   = "rekey"

	OpPasswordPut    = "password_put"
	OpPasswordDelete = "password_delete"
)

// Audit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped" // vault id did not match
	OutcomeFailure = "failure"
)

package validation

// Validator checks settings files and variable documents before they are used.
// Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidateSettings(raw []byte) error
	ValidateDocument(doc any, docSchema []byte) error
}

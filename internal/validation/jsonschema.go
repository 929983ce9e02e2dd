package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/vaultcrypt/pkg/schema"
)

const (
	settingsSchemaURL = "https://vaultcrypt.dev/schemas/settings.json"
	documentSchemaURL = "https://vaultcrypt.dev/schemas/document.json"
)

// settingsSchemaJSON describes ~/.vaultcrypt/settings.json.
const settingsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://vaultcrypt.dev/schemas/settings.json",
  "type": "object",
  "properties": {
    "db_path": { "type": "string", "minLength": 1 },
    "log_level": {
      "type": "string",
      "enum": ["debug", "info", "warn", "warning", "error"]
    },
    "kdf_workers": { "type": "integer", "minimum": 1, "maximum": 256 },
    "default_vault_id": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[^;\\r\\n]+$"
    },
    "audit_retention": {
      "type": "string",
      "pattern": "^([0-9]+(ns|us|µs|ms|s|m|h))+$"
    },
    "audit_prune_schedule": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

// documentSchemaJSON is the baseline every variable document must satisfy.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://vaultcrypt.dev/schemas/document.json",
  "type": "object"
}`

// JSONSchemaValidator implements Validator. It is safe for concurrent use.
type JSONSchemaValidator struct {
	settingsSchema *jsonschema.Schema
	documentSchema *jsonschema.Schema

	// mu guards the cache of caller-supplied document schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the built-in schemas compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()
	for url, src := range map[string]string{
		settingsSchemaURL: settingsSchemaJSON,
		documentSchemaURL: documentSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	settings, err := c.Compile(settingsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}
	document, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}

	return &JSONSchemaValidator{
		settingsSchema: settings,
		documentSchema: document,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateSettings validates the raw contents of a settings file.
func (v *JSONSchemaValidator) ValidateSettings(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "settings are not valid JSON").WithCause(err)
	}
	if err := v.settingsSchema.Validate(doc); err != nil {
		return toVaultError(err)
	}
	return nil
}

// ValidateDocument checks that doc is a JSON object and, when docSchema is
// non-empty, that it also satisfies docSchema. Compiled schemas are cached.
func (v *JSONSchemaValidator) ValidateDocument(doc any, docSchema []byte) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "document is nil")
	}

	value, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize document").WithCause(err)
	}
	if err := v.documentSchema.Validate(value); err != nil {
		return toVaultError(err)
	}
	if len(docSchema) == 0 {
		return nil
	}

	compiled, err := v.getOrCompile(docSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid document schema").WithCause(err)
	}
	if err := compiled.Validate(value); err != nil {
		return toVaultError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Fresh compiler and URL per schema so resources never collide.
	url := fmt.Sprintf("vaultcrypt://document-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON so numbers become json.Number,
// which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toVaultError converts a jsonschema.ValidationError into a VALIDATION_ERROR
// listing each violation with its instance location.
func toVaultError(err error) *schema.VaultError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

var _ Validator = (*JSONSchemaValidator)(nil)

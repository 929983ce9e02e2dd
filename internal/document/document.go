// Package document finds, encrypts and decrypts inline vault values inside
// JSON variable documents. Values are addressed with jq paths.
package document

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/vaultcrypt/internal/validation"
	"github.com/rendis/vaultcrypt/internal/vaultcrypt"
	"github.com/rendis/vaultcrypt/pkg/schema"
)

// allStrings selects the path of every string leaf.
const allStrings = `paths(type == "string")`

// Func transforms one string value. Encrypt and decrypt callbacks both fit.
type Func func(ctx context.Context, value string) (string, error)

// Walker evaluates jq path queries against documents. Compiled queries are
// cached and reused across goroutines.
type Walker struct {
	validator validation.Validator

	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewWalker creates a Walker. A nil validator skips document validation.
func NewWalker(v validation.Validator) *Walker {
	return &Walker{
		validator: v,
		cache:     make(map[string]*gojq.Code),
	}
}

// Find returns the jq path of every string value in doc that is vault text,
// sorted by path.
func (w *Walker) Find(ctx context.Context, doc map[string]any) ([]string, error) {
	if err := w.validate(doc); err != nil {
		return nil, err
	}
	paths, err := w.paths(ctx, allStrings, doc)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, p := range paths {
		s, _ := getPath(doc, p).(string)
		if vaultcrypt.IsEncrypted(s) {
			out = append(out, FormatPath(p))
		}
	}
	sort.Strings(out)
	return out, nil
}

// EncryptPaths replaces each string selected by the path expression expr with
// fn's result. Values that are already vault text are left alone. Non-string
// selections fail with VALIDATION_ERROR. doc is modified in place; the
// encrypted paths are returned.
func (w *Walker) EncryptPaths(ctx context.Context, doc map[string]any, expr string, fn Func) ([]string, error) {
	if err := w.validate(doc); err != nil {
		return nil, err
	}
	if expr == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq path expression")
	}
	paths, err := w.paths(ctx, fmt.Sprintf("path(%s)", expr), doc)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, p := range paths {
		v := getPath(doc, p)
		s, ok := v.(string)
		if !ok {
			return done, schema.NewErrorf(schema.ErrCodeValidation,
				"value at %s is %s, not a string", FormatPath(p), typeName(v))
		}
		if vaultcrypt.IsEncrypted(s) {
			continue
		}
		enc, err := fn(ctx, s)
		if err != nil {
			return done, atPath(err, p)
		}
		setPath(doc, p, enc)
		done = append(done, FormatPath(p))
	}
	return done, nil
}

// DecryptAll replaces every vault text value in doc with fn's result and
// returns the decrypted paths. doc is modified in place.
func (w *Walker) DecryptAll(ctx context.Context, doc map[string]any, fn Func) ([]string, error) {
	if err := w.validate(doc); err != nil {
		return nil, err
	}
	paths, err := w.paths(ctx, allStrings, doc)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, p := range paths {
		s, _ := getPath(doc, p).(string)
		if !vaultcrypt.IsEncrypted(s) {
			continue
		}
		pt, err := fn(ctx, s)
		if err != nil {
			return done, atPath(err, p)
		}
		setPath(doc, p, pt)
		done = append(done, FormatPath(p))
	}
	return done, nil
}

// atPath prefixes err with the document path it occurred at, keeping its code.
func atPath(err error, p []any) error {
	code := schema.CodeOf(err)
	if code == "" {
		code = schema.ErrCodeValidation
	}
	return schema.NewErrorf(code, "%s: %s", FormatPath(p), err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"path": FormatPath(p)})
}

func (w *Walker) validate(doc map[string]any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "document is nil")
	}
	if w.validator == nil {
		return nil
	}
	return w.validator.ValidateDocument(doc, nil)
}

// paths runs a query that yields path arrays.
func (w *Walker) paths(ctx context.Context, query string, doc map[string]any) ([][]any, error) {
	code, err := w.getOrCompile(query)
	if err != nil {
		return nil, err
	}

	iter := code.RunWithContext(ctx, normalize(doc))
	var out [][]any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if ctx.Err() != nil {
				return nil, schema.NewError(schema.ErrCodeCancelled, "document walk cancelled").WithCause(ctx.Err())
			}
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq evaluation failed for %q: %s", query, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": query})
		}
		p, ok := v.([]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq query %q did not yield a path", query)
		}
		out = append(out, p)
	}
	return out, nil
}

// getOrCompile returns a cached compiled query or compiles and caches a new one.
func (w *Walker) getOrCompile(query string) (*gojq.Code, error) {
	w.mu.RLock()
	if code, ok := w.cache[query]; ok {
		w.mu.RUnlock()
		return code, nil
	}
	w.mu.RUnlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if code, ok := w.cache[query]; ok {
		return code, nil
	}

	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", query, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": query})
	}
	code, err := gojq.Compile(parsed,
		// No $ENV: path expressions have no business reading the environment.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", query, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": query})
	}

	w.cache[query] = code
	return code, nil
}

// FormatPath renders a jq path array as a jq path expression, e.g. .db.hosts[0].
func FormatPath(p []any) string {
	if len(p) == 0 {
		return "."
	}
	var b strings.Builder
	for _, seg := range p {
		switch s := seg.(type) {
		case string:
			if isIdent(s) {
				b.WriteString("." + s)
			} else {
				fmt.Fprintf(&b, ".[%q]", s)
			}
		case int:
			fmt.Fprintf(&b, "[%d]", s)
		case float64:
			fmt.Fprintf(&b, "[%d]", int(s))
		default:
			fmt.Fprintf(&b, "[%v]", s)
		}
	}
	return b.String()
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func getPath(doc any, p []any) any {
	cur := doc
	for _, seg := range p {
		switch c := cur.(type) {
		case map[string]any:
			k, _ := seg.(string)
			cur = c[k]
		case []any:
			i, ok := index(seg)
			if !ok || i < 0 || i >= len(c) {
				return nil
			}
			cur = c[i]
		default:
			return nil
		}
	}
	return cur
}

// setPath assigns v at path p. Maps and slices are mutated in place, so the
// container at p[:len(p)-1] must already exist.
func setPath(doc any, p []any, v any) {
	if len(p) == 0 {
		return
	}
	parent := getPath(doc, p[:len(p)-1])
	switch c := parent.(type) {
	case map[string]any:
		if k, ok := p[len(p)-1].(string); ok {
			c[k] = v
		}
	case []any:
		if i, ok := index(p[len(p)-1]); ok && i >= 0 && i < len(c) {
			c[i] = v
		}
	}
}

func index(seg any) (int, bool) {
	switch n := seg.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

// normalize converts Go numeric types to the ones gojq accepts. Documents
// decoded by encoding/json already comply.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalize(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalize(v)
		}
		return out
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "a boolean"
	case map[string]any:
		return "an object"
	case []any:
		return "an array"
	case string:
		return "a string"
	default:
		return "a number"
	}
}

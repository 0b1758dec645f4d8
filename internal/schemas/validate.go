// Package schemas validates LLM output against embedded JSON Schemas.
package schemas

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed verdict.schema.json
var verdictSchema string

// ValidationError lists every schema violation in a document.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	msgs := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return "schema validation failed: " + strings.Join(msgs, "; ")
}

// SyntaxError means the document is not parseable JSON.
type SyntaxError struct {
	Cause error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("response is not valid JSON: %v", e.Cause)
}

func (e *SyntaxError) Unwrap() error {
	return e.Cause
}

var (
	compileOnce sync.Once
	compiled    *gojsonschema.Schema
	compileErr  error
)

func verdict() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiled, compileErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(verdictSchema))
		if compileErr != nil {
			compileErr = fmt.Errorf("failed to compile verdict schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// ValidateVerdict checks an LLM response against the verdict schema.
// It returns *SyntaxError for unparseable input and *ValidationError for schema violations.
func ValidateVerdict(document string) error {
	schema, err := verdict()
	if err != nil {
		return err
	}
	if !json.Valid([]byte(document)) {
		var v any
		return &SyntaxError{Cause: json.Unmarshal([]byte(document), &v)}
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(document))
	if err != nil {
		return &SyntaxError{Cause: err}
	}
	if result.Valid() {
		return nil
	}

	ve := &ValidationError{Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return ve
}

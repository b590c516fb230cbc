package validation

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator holds a compiled JSON schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles a JSON schema given as a Go value (map or struct) or raw JSON string.
func NewValidator(schema interface{}) (*Validator, error) {
	var loader gojsonschema.JSONLoader
	switch s := schema.(type) {
	case string:
		loader = gojsonschema.NewStringLoader(s)
	case []byte:
		loader = gojsonschema.NewBytesLoader(s)
	default:
		loader = gojsonschema.NewGoLoader(s)
	}

	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// MustValidator panics on an invalid schema; use it for package-level schemas.
func MustValidator(schema interface{}) *Validator {
	v, err := NewValidator(schema)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks doc against the compiled schema.
func (v *Validator) Validate(doc interface{}) (*ValidationResult, error) {
	var loader gojsonschema.JSONLoader
	if raw, ok := doc.([]byte); ok {
		loader = gojsonschema.NewBytesLoader(raw)
	} else {
		loader = gojsonschema.NewGoLoader(doc)
	}

	result, err := v.schema.Validate(loader)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	return toResult(result), nil
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*Validator{}
)

// ValidateInput validates input against an ad-hoc schema map. Compiled schemas are cached by name.
func ValidateInput(name string, input interface{}, schema map[string]interface{}) (*ValidationResult, error) {
	cacheMu.Lock()
	v, ok := cache[name]
	if !ok {
		var err error
		v, err = NewValidator(schema)
		if err != nil {
			cacheMu.Unlock()
			return nil, err
		}
		cache[name] = v
	}
	cacheMu.Unlock()

	return v.Validate(input)
}

func toResult(result *gojsonschema.Result) *ValidationResult {
	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    desc.Type(),
		})
	}
	return out
}

// Messages flattens the errors into "field: message" strings.
func (r *ValidationResult) Messages() []string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return msgs
}

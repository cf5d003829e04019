package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Error codes reported in ValidationError.Code.
const (
	CodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	CodeInvalidType          = "INVALID_TYPE"
	CodeInvalidFormat        = "INVALID_FORMAT"
	CodeConstraintViolation  = "CONSTRAINT_VIOLATION"
)

// LoanApplicationSchema describes an inbound loan application. Only applicantId
// and amount are mandatory; unknown fields are carried through untouched.
const LoanApplicationSchema = `{
  "type": "object",
  "required": ["applicantId", "amount"],
  "properties": {
    "applicantId": {"type": "string", "minLength": 1},
    "amount":      {"type": "number"},
    "currency":    {"type": "string"},
    "loanDate":    {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator checks documents against one compiled JSON schema.
type Validator struct {
	schema   *gojsonschema.Schema
	required []string
}

// NewValidator compiles schemaJSON. required lists the fields whose failures
// are reported as missing rather than invalid, in reporting order.
func NewValidator(schemaJSON string, required []string) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Validator{schema: schema, required: required}, nil
}

// NewLoanApplicationValidator compiles LoanApplicationSchema.
func NewLoanApplicationValidator() (*Validator, error) {
	return NewValidator(LoanApplicationSchema, []string{"applicantId", "amount"})
}

// Validate checks a decoded JSON document.
func (v *Validator) Validate(document map[string]interface{}) (*ValidationResult, error) {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, toValidationError(desc))
	}
	return out, nil
}

func toValidationError(desc gojsonschema.ResultError) ValidationError {
	field := desc.Field()
	if desc.Type() == "required" {
		if prop, ok := desc.Details()["property"].(string); ok {
			field = prop
		}
		return ValidationError{Field: field, Message: "required field missing", Code: CodeRequiredFieldMissing}
	}

	code := CodeConstraintViolation
	switch desc.Type() {
	case "invalid_type":
		code = CodeInvalidType
	case "format":
		code = CodeInvalidFormat
	}
	return ValidationError{Field: field, Message: desc.Description(), Code: code}
}

// Summary renders a result as a single line: required-field problems first as
// "missing required fields: a, b", otherwise "invalid fields: x (reason), ...".
func (v *Validator) Summary(vr *ValidationResult) string {
	if vr == nil || vr.Valid {
		return ""
	}

	var missing []string
	for _, name := range v.required {
		if vr.HasErrors(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "missing required fields: " + strings.Join(missing, ", ")
	}

	invalid := vr.GetErrorMessages()
	sort.Strings(invalid)
	return "invalid fields: " + strings.Join(invalid, "; ")
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

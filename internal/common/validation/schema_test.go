package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoanValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewLoanApplicationValidator()
	require.NoError(t, err)
	return v
}

func TestLoanApplicationValidator(t *testing.T) {
	v := newLoanValidator(t)

	tests := []struct {
		name        string
		doc         map[string]interface{}
		wantValid   bool
		wantSummary string
	}{
		{
			name:      "minimal valid",
			doc:       map[string]interface{}{"applicantId": "A1", "amount": 10000.0},
			wantValid: true,
		},
		{
			name:      "zero amount is numeric",
			doc:       map[string]interface{}{"applicantId": "A1", "amount": 0.0},
			wantValid: true,
		},
		{
			name: "optional fields and extras",
			doc: map[string]interface{}{
				"applicantId": "A1", "amount": 5.5, "currency": "EUR",
				"loanDate": "2024-03-01T10:00:00Z", "purpose": "car",
			},
			wantValid: true,
		},
		{
			name:        "missing amount",
			doc:         map[string]interface{}{"applicantId": "A2"},
			wantSummary: "missing required fields: amount",
		},
		{
			name:        "non-numeric amount",
			doc:         map[string]interface{}{"applicantId": "A2", "amount": "lots"},
			wantSummary: "missing required fields: amount",
		},
		{
			name:        "empty applicant id",
			doc:         map[string]interface{}{"applicantId": "", "amount": 1.0},
			wantSummary: "missing required fields: applicantId",
		},
		{
			name:        "nothing at all",
			doc:         map[string]interface{}{},
			wantSummary: "missing required fields: applicantId, amount",
		},
		{
			name:        "wrong currency type",
			doc:         map[string]interface{}{"applicantId": "A1", "amount": 1.0, "currency": 840.0},
			wantSummary: "invalid fields: currency",
		},
		{
			name:        "bad loan date",
			doc:         map[string]interface{}{"applicantId": "A1", "amount": 1.0, "loanDate": "yesterday"},
			wantSummary: "invalid fields: loanDate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := v.Validate(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)

			summary := v.Summary(result)
			if tt.wantValid {
				assert.Empty(t, summary)
				return
			}
			assert.Contains(t, summary, tt.wantSummary)
		})
	}
}

func TestValidate_RequiredErrorsCarryFieldName(t *testing.T) {
	v := newLoanValidator(t)

	result, err := v.Validate(map[string]interface{}{"amount": 1.0})
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "applicantId", result.Errors[0].Field)
	assert.Equal(t, CodeRequiredFieldMissing, result.Errors[0].Code)
	assert.True(t, result.HasErrors("applicantId"))
	assert.False(t, result.HasErrors("amount"))
}

func TestNewValidator_BadSchema(t *testing.T) {
	_, err := NewValidator(`{"type": 12}`, nil)
	assert.Error(t, err)
}

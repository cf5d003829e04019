// internal/workers/loan/process-application/models.go
package processapplication

import (
	"context"

	"loan-pipeline/internal/models"
)

// Outcome of a resolved message.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeFailed    Outcome = "failed"
)

// Result describes a message whose outcome was durably recorded. A message
// that produced a Result is safe to acknowledge.
type Result struct {
	Outcome   Outcome `json:"outcome"`
	RecordID  string  `json:"recordId"`
	ErrorType string  `json:"errorType,omitempty"`
}

type RecordStore interface {
	InsertProcessedLoan(ctx context.Context, loan *models.ProcessedLoan) error
	InsertErrorRecord(ctx context.Context, rec *models.ErrorRecord) error
}

type CounterStore interface {
	Increment(ctx context.Context, key string) (int64, error)
}

type SearchIndex interface {
	IndexLoan(ctx context.Context, loan *models.ProcessedLoan) error
}

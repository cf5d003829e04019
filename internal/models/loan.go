// internal/models/loan.go
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type LoanStatus string

const (
	StatusPending   LoanStatus = "pending"
	StatusApproved  LoanStatus = "approved"
	StatusRejected  LoanStatus = "rejected"
	StatusError     LoanStatus = "error"
	StatusProcessed LoanStatus = "processed"
)

const DefaultCurrency = "USD"

// Credit score bounds for EnrichedData.
const (
	MinCreditScore = 300
	MaxCreditScore = 850
)

// LoanApplication is an inbound application after validation.
type LoanApplication struct {
	ApplicantID string                 `json:"applicantId"`
	Amount      float64                `json:"amount"`
	Currency    string                 `json:"currency,omitempty"`
	LoanDate    *time.Time             `json:"loanDate,omitempty"`
	Attributes  map[string]interface{} `json:"-"`
}

// NewLoanApplication lifts the typed fields out of a validated document.
// Every other field lands in Attributes.
func NewLoanApplication(doc map[string]interface{}) (*LoanApplication, error) {
	app := &LoanApplication{Attributes: make(map[string]interface{})}

	for k, v := range doc {
		switch k {
		case "applicantId":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("applicantId: expected string, got %T", v)
			}
			app.ApplicantID = s
		case "amount":
			switch n := v.(type) {
			case float64:
				app.Amount = n
			case json.Number:
				f, err := n.Float64()
				if err != nil {
					return nil, fmt.Errorf("amount: %w", err)
				}
				app.Amount = f
			default:
				return nil, fmt.Errorf("amount: expected number, got %T", v)
			}
		case "currency":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("currency: expected string, got %T", v)
			}
			app.Currency = s
		case "loanDate":
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("loanDate: expected string, got %T", v)
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("loanDate: %w", err)
			}
			app.LoanDate = &t
		default:
			app.Attributes[k] = v
		}
	}
	return app, nil
}

type EnrichedData struct {
	CreditScore int `json:"creditScore"`
}

// InRange reports whether the score lies within [MinCreditScore, MaxCreditScore].
func (e EnrichedData) InRange() bool {
	return e.CreditScore >= MinCreditScore && e.CreditScore <= MaxCreditScore
}

// ProcessedLoan is the durable record of a successfully processed application.
type ProcessedLoan struct {
	ID           string                 `json:"_id"`
	ApplicantID  string                 `json:"applicantId"`
	Amount       float64                `json:"amount"`
	Currency     string                 `json:"currency"`
	LoanDate     time.Time              `json:"loanDate"`
	Status       LoanStatus             `json:"status"`
	EnrichedData EnrichedData           `json:"enrichedData"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// NewProcessedLoan applies the currency and loanDate defaults.
func NewProcessedLoan(app *LoanApplication, enriched EnrichedData, now time.Time) *ProcessedLoan {
	currency := app.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	loanDate := now
	if app.LoanDate != nil {
		loanDate = app.LoanDate.UTC()
	}
	return &ProcessedLoan{
		ApplicantID:  app.ApplicantID,
		Amount:       app.Amount,
		Currency:     currency,
		LoanDate:     loanDate,
		Status:       StatusProcessed,
		EnrichedData: enriched,
		Attributes:   app.Attributes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ErrorRecord is the durable record of one failed processing attempt.
// Payload holds the original message: the decoded object, or a JSON string
// with the raw bytes when the message could not be decoded.
type ErrorRecord struct {
	ID           string          `json:"_id"`
	ApplicantID  string          `json:"applicantId,omitempty"`
	ErrorType    string          `json:"errorType"`
	ErrorMessage string          `json:"errorMessage"`
	Timestamp    time.Time       `json:"timestamp"`
	Payload      json.RawMessage `json:"payload"`
}

// MetricsSnapshot is a read of the three pipeline counters.
type MetricsSnapshot struct {
	Incoming  int64 `json:"incoming"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

const (
	PushTypeMetrics  = "metrics"
	PushTypeErrorLog = "errorLog"
)

// PushMessage is the envelope sent to live subscribers.
type PushMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewMetricsPush(s MetricsSnapshot) PushMessage {
	return PushMessage{Type: PushTypeMetrics, Data: s}
}

func NewErrorLogPush(r *ErrorRecord) PushMessage {
	return PushMessage{Type: PushTypeErrorLog, Data: r}
}

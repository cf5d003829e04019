// internal/store/records/store.go
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"loan-pipeline/internal/models"

	"github.com/google/uuid"
)

var (
	ErrInsertFailed   = errors.New("DATABASE_INSERT_FAILED")
	ErrQueryFailed    = errors.New("QUERY_EXECUTION_FAILED")
	ErrRecordNotFound = errors.New("RECORD_NOT_FOUND")
)

// Store persists ProcessedLoans and ErrorRecords in PostgreSQL. Records are
// insert-only.
type Store struct {
	db          *sql.DB
	newListener ListenerFactory
}

// NewStore builds a record store. newListener may be nil when the caller never
// subscribes to the error stream.
func NewStore(db *sql.DB, newListener ListenerFactory) *Store {
	return &Store{db: db, newListener: newListener}
}

const insertProcessedLoanQuery = `
	INSERT INTO processed_loans
		(id, applicant_id, amount, currency, loan_date, status, enriched_data, attributes, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// InsertProcessedLoan stores loan, assigning an id when it has none.
func (s *Store) InsertProcessedLoan(ctx context.Context, loan *models.ProcessedLoan) error {
	if loan.ID == "" {
		loan.ID = uuid.NewString()
	}

	enriched, err := json.Marshal(loan.EnrichedData)
	if err != nil {
		return fmt.Errorf("%w: marshal enrichedData: %v", ErrInsertFailed, err)
	}
	attrs := loan.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	attributes, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("%w: marshal attributes: %v", ErrInsertFailed, err)
	}

	_, err = s.db.ExecContext(ctx, insertProcessedLoanQuery,
		loan.ID,
		loan.ApplicantID,
		loan.Amount,
		loan.Currency,
		loan.LoanDate,
		string(loan.Status),
		string(enriched),
		string(attributes),
		loan.CreatedAt,
		loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: processed_loans: %v", ErrInsertFailed, err)
	}
	return nil
}

const insertErrorRecordQuery = `
	INSERT INTO error_records
		(id, applicant_id, error_type, error_message, payload, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// InsertErrorRecord stores rec, assigning an id when it has none. The insert
// fires the error_record_inserted notification.
func (s *Store) InsertErrorRecord(ctx context.Context, rec *models.ErrorRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	var applicantID sql.NullString
	if rec.ApplicantID != "" {
		applicantID = sql.NullString{String: rec.ApplicantID, Valid: true}
	}

	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	_, err := s.db.ExecContext(ctx, insertErrorRecordQuery,
		rec.ID,
		applicantID,
		rec.ErrorType,
		rec.ErrorMessage,
		string(payload),
		rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: error_records: %v", ErrInsertFailed, err)
	}
	return nil
}

const selectErrorRecordQuery = `
	SELECT id, applicant_id, error_type, error_message, payload, created_at
	FROM error_records WHERE id = $1`

// GetErrorRecord fetches one ErrorRecord by id.
func (s *Store) GetErrorRecord(ctx context.Context, id string) (*models.ErrorRecord, error) {
	var (
		rec         models.ErrorRecord
		applicantID sql.NullString
		payload     []byte
	)
	err := s.db.QueryRowContext(ctx, selectErrorRecordQuery, id).Scan(
		&rec.ID, &applicantID, &rec.ErrorType, &rec.ErrorMessage, &payload, &rec.Timestamp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: error record %s", ErrRecordNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrQueryFailed, err)
	}

	rec.ApplicantID = applicantID.String
	rec.Payload = json.RawMessage(payload)
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

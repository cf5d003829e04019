package records

import (
	"context"
	"fmt"
)

// NotifyChannel carries the id of every inserted error record.
const NotifyChannel = "error_record_inserted"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS processed_loans (
		id            UUID PRIMARY KEY,
		applicant_id  TEXT NOT NULL,
		amount        DOUBLE PRECISION NOT NULL,
		currency      TEXT NOT NULL DEFAULT 'USD',
		loan_date     TIMESTAMPTZ NOT NULL,
		status        TEXT NOT NULL CHECK (status IN ('pending','approved','rejected','error','processed')),
		enriched_data JSONB NOT NULL,
		attributes    JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_processed_loans_applicant_id ON processed_loans (applicant_id)`,
	`CREATE TABLE IF NOT EXISTS error_records (
		id            UUID PRIMARY KEY,
		applicant_id  TEXT,
		error_type    TEXT NOT NULL,
		error_message TEXT NOT NULL,
		payload       JSONB NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_error_records_applicant_id ON error_records (applicant_id)`,
	`CREATE OR REPLACE FUNCTION notify_error_record_inserted() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + NotifyChannel + `', NEW.id::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS error_record_inserted ON error_records`,
	`CREATE TRIGGER error_record_inserted AFTER INSERT ON error_records
		FOR EACH ROW EXECUTE FUNCTION notify_error_record_inserted()`,
}

// Migrate creates the tables, indexes and notify trigger. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

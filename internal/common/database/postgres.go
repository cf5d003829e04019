// internal/common/database/postgres.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"loan-pipeline/internal/common/config"

	"github.com/lib/pq"
)

// PostgresClient holds the pool used by the record store plus the DSN its
// change-stream listeners dial with.
type PostgresClient struct {
	DB  *sql.DB
	dsn string
}

// NewPostgres opens a lazily connecting pool; Ping verifies it.
func NewPostgres(cfg config.PostgresConfig) (*PostgresClient, error) {
	dsn := cfg.GetDSN()
	if _, err := pq.NewConnector(dsn); err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &PostgresClient{DB: db, dsn: dsn}, nil
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (c *PostgresClient) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// NewListener opens a dedicated LISTEN connection on the same DSN.
// eventCallback may be nil.
func (c *PostgresClient) NewListener(eventCallback pq.EventCallbackType) *pq.Listener {
	return pq.NewListener(c.dsn, 2*time.Second, time.Minute, eventCallback)
}

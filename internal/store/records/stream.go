package records

import (
	"context"
	"errors"
	"fmt"

	"loan-pipeline/internal/models"

	"github.com/lib/pq"
)

var (
	ErrStreamClosed       = errors.New("CHANGE_STREAM_CLOSED")
	ErrStreamUnconfigured = errors.New("CHANGE_STREAM_UNCONFIGURED")
	// ErrNotificationsLost is returned by Next after the listener reconnected.
	// Inserts made while it was down are not delivered; the stream stays usable.
	ErrNotificationsLost = errors.New("CHANGE_STREAM_GAP")
)

// NotificationSource is the LISTEN side of a Postgres connection.
// *pq.Listener satisfies it.
type NotificationSource interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// ListenerFactory opens a fresh NotificationSource per subscription.
type ListenerFactory func() NotificationSource

// ErrorStream yields ErrorRecords in insertion order, starting from the moment
// it was opened. It does not replay history.
type ErrorStream struct {
	store  *Store
	source NotificationSource
}

// SubscribeErrors opens a new ErrorStream. Close it when done; a failed
// stream is discarded and a new one opened.
func (s *Store) SubscribeErrors(ctx context.Context) (*ErrorStream, error) {
	if s.newListener == nil {
		return nil, ErrStreamUnconfigured
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	source := s.newListener()
	if err := source.Listen(NotifyChannel); err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	return &ErrorStream{store: s, source: source}, nil
}

// Next blocks until the next ErrorRecord is inserted or ctx is done.
func (e *ErrorStream) Next(ctx context.Context) (*models.ErrorRecord, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case n, ok := <-e.source.NotificationChannel():
			if !ok {
				return nil, ErrStreamClosed
			}
			if n == nil {
				return nil, ErrNotificationsLost
			}
			if n.Channel != NotifyChannel {
				continue
			}
			rec, err := e.store.GetErrorRecord(ctx, n.Extra)
			if err != nil {
				return nil, fmt.Errorf("fetch error record %s: %w", n.Extra, err)
			}
			return rec, nil
		}
	}
}

func (e *ErrorStream) Close() error {
	return e.source.Close()
}

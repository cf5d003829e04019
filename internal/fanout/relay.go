// internal/fanout/relay.go
package fanout

import (
	"context"
	"errors"
	"time"

	apperrors "loan-pipeline/internal/common/errors"
	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/common/metrics"
	"loan-pipeline/internal/models"
	"loan-pipeline/internal/store/records"
)

// ErrorFeed yields ErrorRecords in insertion order.
type ErrorFeed interface {
	Next(ctx context.Context) (*models.ErrorRecord, error)
	Close() error
}

// ErrorSource opens a new ErrorFeed starting at the current moment.
type ErrorSource interface {
	SubscribeErrors(ctx context.Context) (ErrorFeed, error)
}

type recordStoreSource struct {
	store *records.Store
}

// RecordStoreSource adapts the record store's change stream.
func RecordStoreSource(store *records.Store) ErrorSource {
	return recordStoreSource{store: store}
}

func (r recordStoreSource) SubscribeErrors(ctx context.Context) (ErrorFeed, error) {
	stream, err := r.store.SubscribeErrors(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Relay forwards each newly inserted ErrorRecord to every subscriber. A
// broken feed is closed and a new one opened after the resubscribe delay.
type Relay struct {
	source ErrorSource
	hub    *Hub
	delay  time.Duration
	errs   *apperrors.ErrorHandler
	logger logger.Logger
}

func NewRelay(source ErrorSource, hub *Hub, resubscribeDelay time.Duration, log logger.Logger) *Relay {
	log = log.WithFields(map[string]interface{}{"component": "error-relay"})
	return &Relay{
		source: source,
		hub:    hub,
		delay:  resubscribeDelay,
		errs:   apperrors.NewErrorHandler(log),
		logger: log,
	}
}

// Run relays until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	for {
		err := r.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, records.ErrStreamUnconfigured) {
			r.logger.Warn("error relay disabled, no change stream configured", nil)
			return nil
		}

		metrics.ChangeStreamRestarts.Inc()
		r.errs.Handle("error-relay", apperrors.NewChangeStreamFailedError(err), map[string]interface{}{
			"retryIn": r.delay.String(),
		})

		t := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (r *Relay) follow(ctx context.Context) error {
	feed, err := r.source.SubscribeErrors(ctx)
	if err != nil {
		return err
	}
	defer feed.Close()
	r.logger.Info("subscribed to error records", nil)

	for {
		rec, err := feed.Next(ctx)
		if errors.Is(err, records.ErrNotificationsLost) {
			metrics.ChangeStreamGaps.Inc()
			r.logger.Warn("change stream reconnected, error records inserted meanwhile were not relayed", nil)
			continue
		}
		if err != nil {
			return err
		}
		r.hub.Broadcast(models.NewErrorLogPush(rec))
	}
}

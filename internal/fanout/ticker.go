// internal/fanout/ticker.go
package fanout

import (
	"context"
	"time"

	apperrors "loan-pipeline/internal/common/errors"
	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/common/metrics"
	"loan-pipeline/internal/models"
)

// SnapshotReader reads the three pipeline counters in one call.
type SnapshotReader interface {
	Snapshot(ctx context.Context) (models.MetricsSnapshot, error)
}

// Ticker pushes a metrics snapshot to every subscriber once per interval.
type Ticker struct {
	counters SnapshotReader
	hub      *Hub
	interval time.Duration
	errs     *apperrors.ErrorHandler
	logger   logger.Logger
}

func NewTicker(counters SnapshotReader, hub *Hub, interval time.Duration, log logger.Logger) *Ticker {
	log = log.WithFields(map[string]interface{}{"component": "metrics-ticker"})
	return &Ticker{
		counters: counters,
		hub:      hub,
		interval: interval,
		errs:     apperrors.NewErrorHandler(log),
		logger:   log,
	}
}

// Run ticks until ctx is done.
func (t *Ticker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// tick samples the counters. A failed read skips the tick.
func (t *Ticker) tick(ctx context.Context) {
	readCtx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()

	snap, err := t.counters.Snapshot(readCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.FanoutTicksSkipped.Inc()
		metrics.CounterStoreFailures.Inc()
		t.errs.Handle("metrics-ticker", apperrors.NewCounterStoreFailedError("snapshot", err), nil)
		return
	}
	t.hub.Broadcast(models.NewMetricsPush(snap))
}

// internal/fanout/service.go
package fanout

import (
	"context"
	"net/http"

	"loan-pipeline/internal/common/logger"

	"golang.org/x/sync/errgroup"
)

// Service runs the metrics ticker and the error relay against one Hub.
// Neither task blocks the other.
type Service struct {
	config *Config
	hub    *Hub
	ticker *Ticker
	relay  *Relay
	alerts AlertPublisher
	logger logger.Logger
}

type Option func(*Service)

// WithAlerts also forwards every errorLog push to publisher.
func WithAlerts(publisher AlertPublisher) Option {
	return func(s *Service) { s.alerts = publisher }
}

func NewService(config *Config, counters SnapshotReader, source ErrorSource, log logger.Logger, opts ...Option) *Service {
	log = log.WithFields(map[string]interface{}{"service": "fanout"})
	hub := NewHub(config.SubscriberQueueSize, log)

	s := &Service{
		config: config,
		hub:    hub,
		ticker: NewTicker(counters, hub, config.MetricsInterval, log),
		relay:  NewRelay(source, hub, config.ResubscribeDelay, log),
		logger: log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Hub() *Hub {
	return s.hub
}

// Handler serves websocket subscribers for this service.
func (s *Service) Handler() http.Handler {
	return NewWebsocketHandler(s.hub, s.logger)
}

// Run blocks until ctx is done, then drops every subscriber.
func (s *Service) Run(ctx context.Context) error {
	defer s.hub.Close()

	if s.alerts != nil {
		s.hub.Subscribe("sns", NewAlertSink(s.alerts, s.logger))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.ticker.Run(gctx) })
	g.Go(func() error { return s.relay.Run(gctx) })

	s.logger.Info("fanout service started", map[string]interface{}{
		"metricsInterval": s.config.MetricsInterval.String(),
		"queueSize":       s.config.SubscriberQueueSize,
		"alerts":          s.alerts != nil,
	})
	err := g.Wait()
	s.logger.Info("fanout service stopped", nil)
	return err
}

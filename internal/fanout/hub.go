// internal/fanout/hub.go
package fanout

import (
	"context"
	"encoding/json"
	"sync"

	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/common/metrics"
	"loan-pipeline/internal/models"
)

// Push is one encoded PushMessage. Body is the exact frame sent to peers.
type Push struct {
	Type string
	Body []byte
}

// Sink delivers pushes to one subscriber. A Send error drops the subscriber.
type Sink interface {
	Send(ctx context.Context, p Push) error
}

// Hub is the set of live subscribers. Each subscriber owns a bounded queue
// drained by its own writer goroutine, so a slow peer never blocks Broadcast
// or any other peer. When a queue is full the oldest push is discarded.
type Hub struct {
	mu        sync.RWMutex
	subs      map[*Subscription]struct{}
	closed    bool
	queueSize int
	logger    logger.Logger
}

func NewHub(queueSize int, log logger.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Hub{
		subs:      make(map[*Subscription]struct{}),
		queueSize: queueSize,
		logger:    log.WithFields(map[string]interface{}{"component": "fanout-hub"}),
	}
}

// Subscribe registers sink. It receives every push broadcast from now on
// until the returned Subscription is closed or a Send fails.
func (h *Hub) Subscribe(name string, sink Sink) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscription{
		name:   name,
		sink:   sink,
		hub:    h,
		size:   h.queueSize,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		s.Close()
		return s
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	metrics.FanoutSubscribers.Inc()
	h.logger.Debug("subscriber connected", map[string]interface{}{"subscriber": name})

	go s.writeLoop()
	return s
}

// Broadcast encodes msg once and queues it for every subscriber.
func (h *Hub) Broadcast(msg models.PushMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode push", map[string]interface{}{"type": msg.Type, "error": err.Error()})
		return
	}
	p := Push{Type: msg.Type, Body: body}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		s.enqueue(p)
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close drops every subscriber. Later Subscribe calls return closed
// subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	h.mu.Unlock()

	if ok {
		metrics.FanoutSubscribers.Dec()
		h.logger.Debug("subscriber disconnected", map[string]interface{}{"subscriber": s.name})
	}
}

type Subscription struct {
	name string
	sink Sink
	hub  *Hub

	mu    sync.Mutex
	queue []Push
	size  int

	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

// Done is closed once the subscription has been dropped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *Subscription) enqueue(p Push) {
	s.mu.Lock()
	dropped := len(s.queue) >= s.size
	if dropped {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, p)
	s.mu.Unlock()

	if dropped {
		metrics.FanoutPushesDropped.Inc()
		s.hub.logger.Debug("subscriber queue full, dropped oldest push", map[string]interface{}{
			"subscriber": s.name,
		})
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Push, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Push{}, false
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	return p, true
}

func (s *Subscription) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			p, ok := s.pop()
			if !ok {
				break
			}
			if err := s.sink.Send(s.ctx, p); err != nil {
				if s.ctx.Err() == nil {
					s.hub.logger.Debug("push failed, dropping subscriber", map[string]interface{}{
						"subscriber": s.name,
						"error":      err.Error(),
					})
				}
				s.Close()
				return
			}
			metrics.FanoutPushesSent.WithLabelValues(p.Type).Inc()
		}
	}
}

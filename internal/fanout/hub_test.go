// internal/fanout/hub_test.go
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

type recordingSink struct {
	mu     sync.Mutex
	pushes []models.PushMessage
	raw    []Push
}

func (r *recordingSink) Send(_ context.Context, p Push) error {
	var msg models.PushMessage
	if err := json.Unmarshal(p.Body, &msg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, msg)
	r.raw = append(r.raw, p)
	return nil
}

func (r *recordingSink) received() []models.PushMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PushMessage, len(r.pushes))
	copy(out, r.pushes)
	return out
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

// gatedSink blocks its first Send until released.
type gatedSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	first   sync.Once
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSink) Send(ctx context.Context, p Push) error {
	g.first.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.recordingSink.Send(ctx, p)
}

type failingSink struct{}

func (failingSink) Send(context.Context, Push) error {
	return errors.New("broken pipe")
}

func metricsPush(n int64) models.PushMessage {
	return models.NewMetricsPush(models.MetricsSnapshot{Incoming: n, Processed: n})
}

func incomingOf(t *testing.T, msg models.PushMessage) int64 {
	t.Helper()
	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok, "unexpected data %T", msg.Data)
	return int64(data["incoming"].(float64))
}

// ==========================
// Hub Tests
// ==========================

func TestHub_BroadcastReachesEverySubscriberInOrder(t *testing.T) {
	hub := NewHub(16, logger.NewTestLogger(t))
	defer hub.Close()

	a, b := &recordingSink{}, &recordingSink{}
	hub.Subscribe("a", a)
	hub.Subscribe("b", b)
	require.Equal(t, 2, hub.Len())

	for i := int64(1); i <= 5; i++ {
		hub.Broadcast(metricsPush(i))
	}

	for _, sink := range []*recordingSink{a, b} {
		require.Eventually(t, func() bool { return sink.count() == 5 }, time.Second, 5*time.Millisecond)
		for i, msg := range sink.received() {
			assert.Equal(t, models.PushTypeMetrics, msg.Type)
			assert.Equal(t, int64(i+1), incomingOf(t, msg))
		}
	}
}

func TestHub_FrameMatchesPushProtocol(t *testing.T) {
	hub := NewHub(4, logger.NewTestLogger(t))
	defer hub.Close()

	sink := &recordingSink{}
	hub.Subscribe("a", sink)
	hub.Broadcast(models.NewMetricsPush(models.MetricsSnapshot{Incoming: 3, Processed: 2, Failed: 1}))

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"metrics","data":{"incoming":3,"processed":2,"failed":1}}`, string(sink.raw[0].Body))
}

func TestHub_SlowSubscriberLosesOldestPushes(t *testing.T) {
	hub := NewHub(2, logger.NewTestLogger(t))
	defer hub.Close()

	slow := newGatedSink()
	fast := &recordingSink{}
	hub.Subscribe("slow", slow)
	hub.Subscribe("fast", fast)

	hub.Broadcast(metricsPush(1))
	<-slow.entered

	for i := int64(2); i <= 6; i++ {
		hub.Broadcast(metricsPush(i))
	}
	require.Eventually(t, func() bool { return fast.count() == 6 }, time.Second, 5*time.Millisecond)

	close(slow.release)
	require.Eventually(t, func() bool { return slow.count() == 3 }, time.Second, 5*time.Millisecond)

	var got []int64
	for _, msg := range slow.received() {
		got = append(got, incomingOf(t, msg))
	}
	assert.Equal(t, []int64{1, 5, 6}, got)
}

func TestHub_FailedSendDropsOnlyThatSubscriber(t *testing.T) {
	hub := NewHub(4, logger.NewTestLogger(t))
	defer hub.Close()

	good := &recordingSink{}
	bad := hub.Subscribe("bad", failingSink{})
	hub.Subscribe("good", good)

	hub.Broadcast(metricsPush(1))

	select {
	case <-bad.Done():
	case <-time.After(time.Second):
		t.Fatal("failing subscriber was not dropped")
	}
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(metricsPush(2))
	require.Eventually(t, func() bool { return good.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_BroadcastWithNoSubscribers(t *testing.T) {
	hub := NewHub(4, logger.NewNoOpLogger())
	assert.NotPanics(t, func() { hub.Broadcast(metricsPush(1)) })
	assert.Zero(t, hub.Len())
}

func TestHub_CloseDropsSubscribers(t *testing.T) {
	hub := NewHub(4, logger.NewTestLogger(t))
	sub := hub.Subscribe("a", &recordingSink{})

	hub.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription still open after Close")
	}
	assert.Zero(t, hub.Len())

	late := hub.Subscribe("late", &recordingSink{})
	select {
	case <-late.Done():
	default:
		t.Fatal("subscribe after Close returned an open subscription")
	}
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	hub := NewHub(4, logger.NewTestLogger(t))
	sub := hub.Subscribe("a", &recordingSink{})

	sub.Close()
	assert.NotPanics(t, sub.Close)
	assert.Zero(t, hub.Len())
}

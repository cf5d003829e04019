// internal/fanout/service_test.go
package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/models"
	"loan-pipeline/internal/store/counters"
	"loan-pipeline/internal/store/records"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (f *fakePublisher) PublishAlert(_ context.Context, subject, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.bodies = append(f.bodies, body)
	return "msg-1", nil
}

func (f *fakePublisher) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bodies...)
}

type pqFakeListener struct {
	ch chan *pq.Notification
}

func (l *pqFakeListener) Listen(string) error { return nil }
func (l *pqFakeListener) NotificationChannel() <-chan *pq.Notification { return l.ch }
func (l *pqFakeListener) Close() error { return nil }

func testConfig() *Config {
	return &Config{
		MetricsInterval:     10 * time.Millisecond,
		ResubscribeDelay:    10 * time.Millisecond,
		SubscriberQueueSize: 64,
	}
}

func TestAlertSink_ForwardsOnlyErrorLogs(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAlertSink(pub, logger.NewTestLogger(t))

	require.NoError(t, sink.Send(context.Background(), Push{Type: models.PushTypeMetrics, Body: []byte(`{}`)}))
	require.NoError(t, sink.Send(context.Background(), Push{Type: models.PushTypeErrorLog, Body: []byte(`{"type":"errorLog"}`)}))

	assert.Equal(t, []string{`{"type":"errorLog"}`}, pub.sent())
}

func TestAlertSink_PublishFailureKeepsSink(t *testing.T) {
	sink := NewAlertSink(&fakePublisher{err: errors.New("throttled")}, logger.NewTestLogger(t))
	assert.NoError(t, sink.Send(context.Background(), Push{Type: models.PushTypeErrorLog, Body: []byte(`{}`)}))
}

func TestService_TickerAndRelayFeedSubscribers(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set(counters.KeyIncoming, "1"))
	require.NoError(t, mr.Set(counters.KeyFailed, "1"))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	listener := &pqFakeListener{ch: make(chan *pq.Notification, 1)}
	store := records.NewStore(db, func() records.NotificationSource { return listener })

	created := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	mock.ExpectQuery(`SELECT id, applicant_id, error_type, error_message, payload, created_at FROM error_records`).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "applicant_id", "error_type", "error_message", "payload", "created_at"}).
			AddRow("rec-1", nil, "decode_error", "Malformed message: invalid JSON", []byte(`"{oops"`), created))

	pub := &fakePublisher{}
	svc := NewService(testConfig(), counters.NewStore(client), RecordStoreSource(store), logger.NewTestLogger(t), WithAlerts(pub))

	sink := &recordingSink{}
	svc.Hub().Subscribe("test", sink)

	stop := runInBackground(t, svc.Run)

	require.Eventually(t, func() bool { return sink.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	listener.ch <- &pq.Notification{Channel: records.NotifyChannel, Extra: "rec-1"}

	require.Eventually(t, func() bool {
		for _, msg := range sink.received() {
			if msg.Type == models.PushTypeErrorLog {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(pub.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.JSONEq(t, `{"type":"errorLog","data":{
		"_id":"rec-1",
		"errorType":"decode_error",
		"errorMessage":"Malformed message: invalid JSON",
		"timestamp":"2025-03-04T05:06:07Z",
		"payload":"{oops"
	}}`, pub.sent()[0])
	assert.Zero(t, svc.Hub().Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

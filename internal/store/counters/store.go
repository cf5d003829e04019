// internal/store/counters/store.go
package counters

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"loan-pipeline/internal/models"

	"github.com/redis/go-redis/v9"
)

// Metric keys. All three are monotonic and never reset.
const (
	KeyIncoming  = "metrics:incoming"
	KeyProcessed = "metrics:processed"
	KeyFailed    = "metrics:failed"
)

var ErrCounterStore = errors.New("COUNTER_STORE_FAILED")

// Store is an atomically incrementable counter store backed by Redis.
type Store struct {
	redis redis.Cmdable
}

func NewStore(client redis.Cmdable) *Store {
	return &Store{redis: client}
}

// Increment adds one to key and returns the new value.
func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", ErrCounterStore, key, err)
	}
	return n, nil
}

// Read returns the current value of key. A key that was never written reads 0.
func (s *Store) Read(ctx context.Context, key string) (int64, error) {
	n, err := s.redis.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %v", ErrCounterStore, key, err)
	}
	return n, nil
}

// Snapshot reads the three pipeline counters in one round trip.
func (s *Store) Snapshot(ctx context.Context) (models.MetricsSnapshot, error) {
	vals, err := s.redis.MGet(ctx, KeyIncoming, KeyProcessed, KeyFailed).Result()
	if err != nil {
		return models.MetricsSnapshot{}, fmt.Errorf("%w: mget: %v", ErrCounterStore, err)
	}
	if len(vals) != 3 {
		return models.MetricsSnapshot{}, fmt.Errorf("%w: mget returned %d values", ErrCounterStore, len(vals))
	}

	var out [3]int64
	for i, v := range vals {
		n, err := parseCounter(v)
		if err != nil {
			return models.MetricsSnapshot{}, fmt.Errorf("%w: %v", ErrCounterStore, err)
		}
		out[i] = n
	}

	return models.MetricsSnapshot{Incoming: out[0], Processed: out[1], Failed: out[2]}, nil
}

func parseCounter(v interface{}) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter value %q: %w", val, err)
		}
		return n, nil
	case int64:
		return val, nil
	default:
		return 0, fmt.Errorf("unexpected counter value type %T", v)
	}
}

// internal/queue/queue.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream entry fields.
const (
	FieldValue = "value"
	FieldKey   = "key"
)

var ErrQueue = errors.New("QUEUE_FAILED")

// Message is one entry read from a partition stream.
type Message struct {
	Partition int
	ID        string
	Key       string
	Payload   []byte
}

type Config struct {
	Topic         string
	Group         string
	Consumer      string
	Partitions    int
	Block         time.Duration
	FromBeginning bool
}

// Queue is a partitioned, ordered, at-least-once topic on Redis Streams.
// Each partition is its own stream named "<topic>:<n>" and all partitions
// share one consumer group.
type Queue struct {
	redis redis.Cmdable
	cfg   Config
	next  atomic.Uint32
}

func New(client redis.Cmdable, cfg Config) *Queue {
	if cfg.Partitions < 1 {
		cfg.Partitions = 1
	}
	return &Queue{redis: client, cfg: cfg}
}

// Partitions returns the partition count.
func (q *Queue) Partitions() int {
	return q.cfg.Partitions
}

// StreamKey names the stream backing partition.
func (q *Queue) StreamKey(partition int) string {
	return fmt.Sprintf("%s:%d", q.cfg.Topic, partition)
}

// PartitionFor maps key onto a partition. Equal keys always land on the same
// partition; an empty key is spread round-robin.
func (q *Queue) PartitionFor(key string) int {
	if key == "" {
		return int(q.next.Add(1)-1) % q.cfg.Partitions
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(q.cfg.Partitions))
}

// EnsureGroups creates the consumer group on every partition stream. Existing
// groups are left alone.
func (q *Queue) EnsureGroups(ctx context.Context) error {
	for p := 0; p < q.cfg.Partitions; p++ {
		if err := q.ensureGroup(ctx, q.StreamKey(p)); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) ensureGroup(ctx context.Context, stream string) error {
	start := "$"
	if q.cfg.FromBeginning {
		start = "0"
	}
	err := q.redis.XGroupCreateMkStream(ctx, stream, q.cfg.Group, start).Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("%w: create group on %s: %v", ErrQueue, stream, err)
	}
	return nil
}

// Publish appends payload to the partition chosen by key and returns the entry id.
func (q *Queue) Publish(ctx context.Context, key string, payload []byte) (string, error) {
	stream := q.StreamKey(q.PartitionFor(key))
	id, err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			FieldValue: payload,
			FieldKey:   key,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("%w: xadd %s: %v", ErrQueue, stream, err)
	}
	return id, nil
}

// Reader returns the sequential reader for one partition. A partition must
// only ever be read by one goroutine.
func (q *Queue) Reader(partition int) *PartitionReader {
	return &PartitionReader{q: q, partition: partition, stream: q.StreamKey(partition)}
}

// PartitionReader reads one partition in order. Entries this consumer
// already received but never acknowledged are returned before new ones.
type PartitionReader struct {
	q           *Queue
	partition   int
	stream      string
	pendingDone bool
}

func (r *PartitionReader) Partition() int {
	return r.partition
}

// Read returns the next message, or nil when none arrived within the block
// timeout.
func (r *PartitionReader) Read(ctx context.Context) (*Message, error) {
	if !r.pendingDone {
		msg, err := r.read(ctx, "0", -1)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		r.pendingDone = true
	}
	return r.read(ctx, ">", r.q.cfg.Block)
}

// Rewind makes the next Read start again from the pending entries, so an
// unacknowledged message is redelivered before anything newer.
func (r *PartitionReader) Rewind() {
	r.pendingDone = false
}

// Ack removes msg from the pending list.
func (r *PartitionReader) Ack(ctx context.Context, msg *Message) error {
	if err := r.q.redis.XAck(ctx, r.stream, r.q.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("%w: xack %s %s: %v", ErrQueue, r.stream, msg.ID, err)
	}
	return nil
}

func (r *PartitionReader) read(ctx context.Context, start string, block time.Duration) (*Message, error) {
	regrouped := false
	for {
		streams, err := r.q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.q.cfg.Group,
			Consumer: r.q.cfg.Consumer,
			Streams:  []string{r.stream, start},
			Count:    1,
			Block:    block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		// the stream or its group was deleted under us
		if err != nil && !regrouped && strings.HasPrefix(err.Error(), "NOGROUP") {
			if gerr := r.q.ensureGroup(ctx, r.stream); gerr != nil {
				return nil, gerr
			}
			regrouped = true
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: xreadgroup %s: %v", ErrQueue, r.stream, err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			return nil, nil
		}

		entry := streams[0].Messages[0]
		if len(entry.Values) == 0 {
			// pending entry whose data was trimmed from the stream
			if err := r.q.redis.XAck(ctx, r.stream, r.q.cfg.Group, entry.ID).Err(); err != nil {
				return nil, fmt.Errorf("%w: xack trimmed %s: %v", ErrQueue, entry.ID, err)
			}
			continue
		}
		return toMessage(r.partition, entry), nil
	}
}

func toMessage(partition int, entry redis.XMessage) *Message {
	msg := &Message{Partition: partition, ID: entry.ID}
	if v, ok := entry.Values[FieldValue]; ok {
		msg.Payload = toBytes(v)
	}
	if v, ok := entry.Values[FieldKey]; ok {
		msg.Key = string(toBytes(v))
	}
	return msg
}

func toBytes(v interface{}) []byte {
	switch val := v.(type) {
	case string:
		return []byte(val)
	case []byte:
		return val
	default:
		return []byte(fmt.Sprint(val))
	}
}

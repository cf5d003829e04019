// internal/workers/loan/process-application/consumer.go
package processapplication

import (
	"context"
	"time"

	"loan-pipeline/internal/common/logger"
	"loan-pipeline/internal/queue"

	"golang.org/x/sync/errgroup"
)

// MessageHandler resolves one queued message.
type MessageHandler interface {
	Handle(ctx context.Context, msg *queue.Message) (*Result, error)
}

// Consumer owns one goroutine per partition. Within a partition messages
// are handled strictly one after another.
type Consumer struct {
	queue   *queue.Queue
	handler MessageHandler
	config  *Config
	logger  logger.Logger
}

func NewConsumer(q *queue.Queue, handler MessageHandler, config *Config, log logger.Logger) *Consumer {
	return &Consumer{
		queue:   q,
		handler: handler,
		config:  config,
		logger:  log.WithFields(map[string]interface{}{"taskType": TaskType, "component": "consumer"}),
	}
}

// Run blocks until ctx is cancelled. A message already being handled when
// that happens is allowed to finish, bounded by ShutdownTimeout.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.queue.EnsureGroups(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < c.queue.Partitions(); p++ {
		reader := c.queue.Reader(p)
		g.Go(func() error {
			return c.runPartition(gctx, reader)
		})
	}

	c.logger.Info("consumer started", map[string]interface{}{"partitions": c.queue.Partitions()})
	err := g.Wait()
	c.logger.Info("consumer stopped", nil)
	return err
}

func (c *Consumer) runPartition(ctx context.Context, reader *queue.PartitionReader) error {
	log := c.logger.WithFields(map[string]interface{}{"partition": reader.Partition()})

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("queue read failed", map[string]interface{}{"error": err.Error()})
			c.pause(ctx)
			continue
		}
		if msg == nil {
			continue
		}

		if !c.handleOne(ctx, reader, msg, log) {
			reader.Rewind()
			c.pause(ctx)
		}
	}
}

// handleOne reports whether the message was resolved and acknowledged.
func (c *Consumer) handleOne(ctx context.Context, reader *queue.PartitionReader, msg *queue.Message, log logger.Logger) bool {
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.ShutdownTimeout)
	defer cancel()

	if _, err := c.handler.Handle(workCtx, msg); err != nil {
		log.Warn("message left pending for redelivery", map[string]interface{}{
			"messageId": msg.ID,
			"error":     err.Error(),
		})
		return false
	}

	if err := reader.Ack(workCtx, msg); err != nil {
		log.Error("ack failed, message will be redelivered", map[string]interface{}{
			"messageId": msg.ID,
			"error":     err.Error(),
		})
		return false
	}
	return true
}

func (c *Consumer) pause(ctx context.Context) {
	t := time.NewTimer(c.config.RedeliveryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

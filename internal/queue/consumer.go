package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/luminahq/research-server/internal/logger"
	"github.com/nats-io/nats.go"
)

const (
	// ackWait is how long a worker may hold a task before it is redelivered.
	// Research runs are long; err on the side of slow redelivery over
	// duplicate processing.
	ackWait = 10 * time.Minute

	// fetchBatch keeps dequeue one-at-a-time so slow workers don't hoard.
	fetchBatch = 1
)

// Delivery is a dequeued task. Ack must be called after processing finishes;
// an unacked delivery is redelivered to another worker after the ack wait.
type Delivery struct {
	Task *Task

	msg *nats.Msg
}

// Ack acknowledges the delivery, removing the task from the work queue.
func (d *Delivery) Ack() error {
	return d.msg.Ack()
}

// Consumer dequeues research tasks. Multiple consumers may run concurrently;
// each task is handed to exactly one of them at a time.
type Consumer struct {
	sub    *nats.Subscription
	logger *logger.Logger
}

// NewConsumer creates a durable pull consumer on the task stream.
func NewConsumer(nc *nats.Conn, logger *logger.Logger) (*Consumer, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	if err := EnsureStream(js); err != nil {
		return nil, err
	}

	sub, err := js.PullSubscribe(TaskSubject, ConsumerName, nats.AckWait(ackWait))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	return &Consumer{
		sub:    sub,
		logger: logger.WithComponent("task-queue"),
	}, nil
}

// Dequeue blocks until a task is available or the context is cancelled.
// Tasks whose payload cannot be decoded are acked and skipped so a poison
// message cannot wedge the queue.
func (c *Consumer) Dequeue(ctx context.Context) (*Delivery, error) {
	for {
		msgs, err := c.sub.Fetch(fetchBatch, nats.Context(ctx))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, ctx.Err()
			}
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
		}
		if len(msgs) == 0 {
			continue
		}

		msg := msgs[0]
		task := &Task{}
		if err := json.Unmarshal(msg.Data, task); err != nil {
			c.logger.Error("discarding malformed task payload",
				slog.String("error", err.Error()))
			_ = msg.Ack()
			continue
		}

		c.logger.Info("task dequeued",
			slog.String("request_id", task.RequestID),
			slog.String("chat_id", task.ChatID))

		return &Delivery{Task: task, msg: msg}, nil
	}
}

// Close drains the subscription.
func (c *Consumer) Close() error {
	return c.sub.Drain()
}

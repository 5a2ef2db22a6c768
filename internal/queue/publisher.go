package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/luminahq/research-server/internal/logger"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_tasks_enqueued_total",
		Help: "Number of research tasks successfully enqueued.",
	})
	taskEnqueueFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_task_enqueue_failures_total",
		Help: "Number of enqueue attempts that failed. Each one is a task that was never dispatched.",
	})
)

// Publisher enqueues research tasks for workers.
type Publisher struct {
	js     nats.JetStreamContext
	logger *logger.Logger
}

// NewPublisher creates a task publisher and ensures the stream exists.
func NewPublisher(nc *nats.Conn, logger *logger.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	if err := EnsureStream(js); err != nil {
		return nil, err
	}

	return &Publisher{
		js:     js,
		logger: logger.WithComponent("task-queue"),
	}, nil
}

// Enqueue publishes a task to the durable stream. Returns
// ErrQueueUnavailable when the write is not accepted; the caller is expected
// to log and continue rather than fail the user action that triggered it.
func (p *Publisher) Enqueue(ctx context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if _, err := p.js.Publish(TaskSubject, data, nats.Context(ctx)); err != nil {
		taskEnqueueFailures.Inc()
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	tasksEnqueued.Inc()
	p.logger.Info("task enqueued",
		slog.String("request_id", task.RequestID),
		slog.String("chat_id", task.ChatID),
		slog.Int("history_len", len(task.History)))

	return nil
}

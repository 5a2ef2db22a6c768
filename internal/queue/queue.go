// Package queue implements the durable research task queue on top of NATS
// JetStream. Tasks are FIFO per stream and delivered at-least-once: a worker
// that crashes mid-processing gets its task redelivered after the ack wait.
package queue

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

const (
	// StreamName is the JetStream stream holding pending research tasks.
	StreamName = "RESEARCH_TASKS"

	// TaskSubject is the subject tasks are published on.
	TaskSubject = "research.tasks"

	// ConsumerName is the durable pull consumer shared by all workers.
	// WorkQueue retention hands each task to exactly one dequeuer at a time.
	ConsumerName = "research-workers"
)

// ErrQueueUnavailable indicates the durable store could not accept the
// operation. Callers on the enqueue side must not fail the user-facing
// request because of it: the message stays persisted and the task simply
// remains undispatched.
var ErrQueueUnavailable = errors.New("task queue unavailable")

// EnsureStream creates the task stream if it does not exist yet.
// Safe to call from every producer and consumer at startup.
func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{TaskSubject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

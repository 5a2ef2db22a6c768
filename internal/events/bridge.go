package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/luminahq/research-server/internal/logger"
	"github.com/nats-io/nats.go"
)

// UpdatesSubject is the NATS subject carrying agent update events.
// Workers (and the completion gateway) publish here; every server instance
// subscribes and delivers to whichever of its local connections belong to
// the target user.
const UpdatesSubject = "agent.updates"

// Emitter publishes agent updates to the shared NATS subject.
type Emitter struct {
	nc     *nats.Conn
	logger *logger.Logger
}

// NewEmitter creates an event emitter.
func NewEmitter(nc *nats.Conn, logger *logger.Logger) *Emitter {
	return &Emitter{
		nc:     nc,
		logger: logger.WithComponent("event-emitter"),
	}
}

// Emit publishes an event. Delivery to clients is best-effort; a failed
// publish is logged and not retried.
func (e *Emitter) Emit(ctx context.Context, event *AgentUpdate) {
	data, err := json.Marshal(event)
	if err != nil {
		e.logger.WithContext(ctx).Error("failed to marshal event",
			slog.String("error", err.Error()))
		return
	}

	if err := e.nc.Publish(UpdatesSubject, data); err != nil {
		e.logger.WithContext(ctx).Error("failed to publish event",
			slog.String("target_user_id", event.TargetUserID),
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
	}
}

// Bridge subscribes to the updates subject and fans incoming events out to
// the local connection registry. In a multi-instance deployment each
// instance runs its own bridge; the instance holding the user's socket is
// the one whose delivery matters, the rest drop the event silently.
type Bridge struct {
	nc           *nats.Conn
	registry     *Registry
	logger       *logger.Logger
	subscription *nats.Subscription
}

// NewBridge creates a bridge between NATS and the local registry.
func NewBridge(nc *nats.Conn, registry *Registry, logger *logger.Logger) *Bridge {
	return &Bridge{
		nc:       nc,
		registry: registry,
		logger:   logger.WithComponent("event-bridge"),
	}
}

// Start begins listening for agent updates. Call once during server startup.
func (b *Bridge) Start() error {
	sub, err := b.nc.Subscribe(UpdatesSubject, b.handleUpdate)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", UpdatesSubject, err)
	}

	b.subscription = sub
	b.logger.Info("event bridge started",
		slog.String("subject", UpdatesSubject),
		slog.String("instance_id", logger.GetInstanceID()))

	return nil
}

// Stop drains the subscription.
func (b *Bridge) Stop() error {
	if b.subscription != nil {
		if err := b.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	b.logger.Info("event bridge stopped")
	return nil
}

func (b *Bridge) handleUpdate(msg *nats.Msg) {
	var event AgentUpdate
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		b.logger.Warn("received malformed agent update",
			slog.String("error", err.Error()))
		return
	}

	if event.TargetUserID == "" {
		b.logger.Warn("received agent update without target user")
		return
	}

	b.registry.Publish(event.TargetUserID, &event)
}

package events

import (
	"log/slog"
	"sync"

	"github.com/luminahq/research-server/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "event_bus_active_connections",
		Help: "Number of live client connections registered on the event bus.",
	})
	eventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_bus_events_delivered_total",
		Help: "Events delivered to individual connections.",
	})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_bus_events_dropped_total",
		Help: "Events published for users with zero registered connections.",
	})
)

// Conn is a live client connection capable of receiving events.
// Implementations must be safe for concurrent Send calls.
type Conn interface {
	Send(event *AgentUpdate) error
	Close() error
}

// Registry maps user identities to their live connections. A user may hold
// several connections (tabs, devices); publishing delivers to all of them,
// best-effort, at-most-once per connection. There is no buffering or replay:
// a client that connects after an event was published recovers by re-fetching
// durable state.
type Registry struct {
	// userConns maps userID -> set of connections.
	userConns map[string]map[Conn]bool

	// connToUser maps connection -> userID for cleanup.
	connToUser map[Conn]string

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *logger.Logger) *Registry {
	return &Registry{
		userConns:  make(map[string]map[Conn]bool),
		connToUser: make(map[Conn]string),
		logger:     logger.WithComponent("event-bus"),
	}
}

// Register associates a connection with a user identity.
func (r *Registry) Register(userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.userConns[userID] == nil {
		r.userConns[userID] = make(map[Conn]bool)
	}
	r.userConns[userID][conn] = true
	r.connToUser[conn] = userID

	activeConnections.Inc()
	r.logger.Debug("connection registered",
		slog.String("user_id", userID),
		slog.Int("user_connections", len(r.userConns[userID])))
}

// Unregister removes a connection. Idempotent: unregistering a connection
// that is already gone is a no-op.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.connToUser[conn]
	if !ok {
		return
	}

	if conns, ok := r.userConns[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(r.userConns, userID)
		}
	}
	delete(r.connToUser, conn)

	activeConnections.Dec()
	r.logger.Debug("connection unregistered", slog.String("user_id", userID))
}

// Publish delivers an event to every connection registered for the user.
// If none are registered the event is dropped silently. The connection list
// is snapshotted under the read lock and sends happen outside it, so one
// slow client cannot stall registration or delivery for other users.
// Failed sends are not retried; the transport's disconnect detection is
// responsible for triggering Unregister.
func (r *Registry) Publish(userID string, event *AgentUpdate) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.userConns[userID]))
	for conn := range r.userConns[userID] {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		eventsDropped.Inc()
		return
	}

	for _, conn := range conns {
		if err := conn.Send(event); err != nil {
			r.logger.Debug("failed to send event to connection",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			continue
		}
		eventsDelivered.Inc()
	}
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID])
}

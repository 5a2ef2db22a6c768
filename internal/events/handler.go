package events

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/luminahq/research-server/internal/auth"
	"github.com/luminahq/research-server/internal/logger"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks are handled by the CORS layer; the upgrade itself is
	// gated on the authenticated user.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated clients to the real-time event channel.
type Handler struct {
	registry *Registry
	logger   *logger.Logger
}

// NewHandler creates a websocket handler bound to a registry.
func NewHandler(registry *Registry, logger *logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger.WithComponent("ws-handler"),
	}
}

// Serve handles GET /ws. The connection carries server-to-client events
// only; anything the client writes is discarded. The read loop exists to
// detect disconnects and keep the pong handler running.
func (h *Handler) Serve(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}

	ws := newWSConn(conn)
	h.registry.Register(userID, ws)
	defer func() {
		h.registry.Unregister(ws)
		ws.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Keepalive pings; the peer's pongs extend the read deadline.
	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ws.ping(); err != nil {
					return
				}
			case <-stopPing:
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly",
					slog.String("user_id", userID),
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

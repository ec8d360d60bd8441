package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/cuongbtq/invoice-service/internal/notify"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const maxClientMessageSize = 512

// EventsHandler upgrades authenticated requests to WebSocket push channels
type EventsHandler struct {
	deps         *Dependencies
	logger       *slog.Logger
	hub          EventHub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewEventsHandler creates a new EventsHandler instance
func NewEventsHandler(deps *Dependencies) *EventsHandler {
	pingInterval := deps.PingInterval
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}

	h := &EventsHandler{
		deps:         deps,
		logger:       deps.Logger,
		hub:          deps.Hub,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(deps.AllowedOrigins) > 0 {
		h.upgrader.CheckOrigin = h.checkOrigin
	}
	return h
}

// Subscribe handles GET /api/v1/events
// Sends a connected event, registers the connection with the hub and keeps the
// connection alive until the client goes away or stops answering pings.
func (h *EventsHandler) Subscribe(c *gin.Context) {
	userID := currentUserID(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		h.logger.Warn("WebSocket upgrade failed",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return
	}

	// written before registration; no job event can overtake it
	_ = conn.SetWriteDeadline(time.Now().Add(h.pingInterval))
	if err := conn.WriteJSON(domain.Event{Type: domain.EventConnected, At: h.deps.now()}); err != nil {
		h.logger.Warn("Failed to send connected event",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		conn.Close()
		return
	}

	sub := h.hub.Subscribe(userID, conn)
	if sub == nil {
		return
	}
	defer func() {
		h.hub.Release(sub)
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go h.keepAlive(sub, conn, done)

	h.readUntilClosed(conn)

	h.logger.Info("Event stream closed", slog.String("user_id", userID))
}

// keepAlive pings on every interval; a failed ping closes conn, which ends the read loop
func (h *EventsHandler) keepAlive(sub *notify.Subscription, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sub.Ping(websocket.PingMessage); err != nil {
				h.logger.Debug("Ping failed, closing connection",
					slog.String("user_id", sub.UserID()),
					slog.Any("error", err),
				)
				conn.Close()
				return
			}
		}
	}
}

// readUntilClosed discards client messages; pongs extend the read deadline
func (h *EventsHandler) readUntilClosed(conn *websocket.Conn) {
	pongWait := 2 * h.pingInterval

	conn.SetReadLimit(maxClientMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Unexpected WebSocket close", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *EventsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, allowed := range h.deps.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Host {
			return true
		}
	}
	return false
}

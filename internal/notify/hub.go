package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/invoice-service/internal/domain"
)

const defaultWriteTimeout = 10 * time.Second

// Conn is the write side of a live client connection; *websocket.Conn satisfies it
type Conn interface {
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Subscription is one user's registered connection. Writes are serialized.
type Subscription struct {
	userID       string
	conn         Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// UserID returns the subscribed user
func (s *Subscription) UserID() string {
	return s.userID
}

// Send writes v as JSON within the write timeout
func (s *Subscription) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(v)
}

// Ping writes a control frame of the given type within the write timeout
func (s *Subscription) Ping(messageType int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.conn.WriteControl(messageType, nil, time.Now().Add(s.writeTimeout))
}

// Config holds hub configuration
type Config struct {
	WriteTimeout time.Duration
	Logger       *slog.Logger
	// OnCountChange is called with the subscriber count after every change
	OnCountChange func(n int)
}

// Hub maps each user to at most one live connection and pushes events to it.
// Delivery is at-most-once: events for absent users are dropped.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	writeTimeout  time.Duration
	logger        *slog.Logger
	onCountChange func(n int)
}

// NewHub creates a new Hub
func NewHub(config Config) *Hub {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.OnCountChange == nil {
		config.OnCountChange = func(int) {}
	}

	return &Hub{
		subs:          make(map[string]*Subscription),
		writeTimeout:  config.WriteTimeout,
		logger:        config.Logger,
		onCountChange: config.OnCountChange,
	}
}

// Subscribe registers conn as userID's connection, replacing any earlier one.
// The replaced connection is left open; its owner releases it.
// Returns nil if the hub is closed, in which case conn is closed.
func (h *Hub) Subscribe(userID string, conn Conn) *Subscription {
	sub := &Subscription{userID: userID, conn: conn, writeTimeout: h.writeTimeout}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	_, replaced := h.subs[userID]
	h.subs[userID] = sub
	n := len(h.subs)
	h.mu.Unlock()

	h.onCountChange(n)
	h.logger.Info("Subscriber registered",
		slog.String("user_id", userID),
		slog.Bool("replaced", replaced),
		slog.Int("subscribers", n),
	)
	return sub
}

// Unsubscribe removes userID's registration if present
func (h *Hub) Unsubscribe(userID string) {
	h.mu.Lock()
	_, ok := h.subs[userID]
	delete(h.subs, userID)
	n := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.onCountChange(n)
		h.logger.Info("Subscriber removed", slog.String("user_id", userID))
	}
}

// Release removes sub only if it is still the user's current registration
func (h *Hub) Release(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	h.mu.Lock()
	current, ok := h.subs[sub.userID]
	removed := ok && current == sub
	if removed {
		delete(h.subs, sub.userID)
	}
	n := len(h.subs)
	h.mu.Unlock()

	if removed {
		h.onCountChange(n)
		h.logger.Info("Subscriber released",
			slog.String("user_id", sub.userID),
			slog.Int("subscribers", n),
		)
	}
	return removed
}

// Publish sends event to userID's connection if one is registered.
// It reports whether the event was written. A failed write deregisters and
// closes that connection.
func (h *Hub) Publish(userID string, event domain.Event) bool {
	h.mu.RLock()
	sub, ok := h.subs[userID]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug("No subscriber for event, dropping",
			slog.String("user_id", userID),
			slog.String("type", string(event.Type)),
			slog.String("job_id", event.JobID),
		)
		return false
	}

	if err := sub.Send(event); err != nil {
		h.logger.Warn("Failed to deliver event, dropping subscriber",
			slog.String("user_id", userID),
			slog.String("type", string(event.Type)),
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
		h.Release(sub)
		sub.conn.Close()
		return false
	}

	h.logger.Debug("Event delivered",
		slog.String("user_id", userID),
		slog.String("type", string(event.Type)),
		slog.String("job_id", event.JobID),
	)
	return true
}

// Count returns the number of registered users
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close deregisters and closes every connection. Later Subscribe calls are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		if err := sub.conn.Close(); err != nil {
			h.logger.Debug("Failed to close subscriber connection",
				slog.String("user_id", sub.userID),
				slog.Any("error", err),
			)
		}
	}
	h.onCountChange(0)

	h.logger.Info("Notification hub closed", slog.Int("closed_connections", len(subs)))
}

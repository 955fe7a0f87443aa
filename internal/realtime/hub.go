package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// PresenceHandler is called when the last connection of an identity closes.
type PresenceHandler func(userID uuid.UUID)

// Roster resolves the ACTIVE members of a session for Broadcast.
type Roster interface {
	ActiveMembers(sessionID uuid.UUID) []uuid.UUID
}

// Hub is the connection registry: identity -> set of live connections.
type Hub struct {
	// userID -> map[clientID]*Client
	users      map[uuid.UUID]map[string]*Client
	mu         sync.RWMutex
	logger     *zap.Logger
	roster     Roster
	onPresence PresenceHandler
}

// NewHub creates a new connection registry.
func NewHub(logger *zap.Logger, roster Roster) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		users:  make(map[uuid.UUID]map[string]*Client),
		logger: logger,
		roster: roster,
	}
}

// SetPresenceHandler sets the callback run when an identity's last connection closes.
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

// Register adds a connection for its identity.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	metrics.WSConnections.Inc()
	h.logger.Debug("client connected", zap.String("conn_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes only this connection. Membership is never touched; when it was the
// identity's last connection the presence handler records last-seen.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	m, ok := h.users[c.UserID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := m[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(m, c.ID)
	close(c.send)
	last := len(m) == 0
	if last {
		delete(h.users, c.UserID)
	}
	onPresence := h.onPresence
	h.mu.Unlock()

	metrics.WSConnections.Dec()
	h.logger.Debug("client disconnected", zap.String("conn_id", c.ID), zap.String("user_id", c.UserID.String()))
	if last && onPresence != nil {
		onPresence(c.UserID)
	}
}

// Connected reports whether the identity has at least one live connection.
func (h *Hub) Connected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// ConnectionCount returns the number of live connections of the identity.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func encode(event string, payload interface{}, seq uint64) (WSMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return WSMessage{}, err
		}
		data = b
	}
	return WSMessage{Event: event, Data: data, Seq: seq}, nil
}

// Unicast and Broadcast are the registry's push API for callers outside the session
// lock, such as operator notices. They carry no sequence number (Seq 0), so a client
// never uses them to detect gaps. Session state changes go through Deliver instead.

// Unicast sends to every connection of one identity.
func (h *Hub) Unicast(userID uuid.UUID, event string, payload interface{}) {
	msg, err := encode(event, payload, 0)
	if err != nil {
		h.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.send([]uuid.UUID{userID}, msg)
}

// Broadcast sends to every connection of every ACTIVE member of the session.
func (h *Hub) Broadcast(sessionID uuid.UUID, event string, payload interface{}) {
	if h.roster == nil {
		return
	}
	msg, err := encode(event, payload, 0)
	if err != nil {
		h.logger.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	h.send(h.roster.ActiveMembers(sessionID), msg)
}

// Deliver pushes an ordered notification batch to local connections. It implements events.Sink.
func (h *Hub) Deliver(_ context.Context, sessionID uuid.UUID, notes []events.Notification) {
	for _, n := range notes {
		msg, err := encode(n.Event, n.Payload, n.Seq)
		if err != nil {
			h.logger.Error("encode notification", zap.String("event", n.Event), zap.String("session_id", sessionID.String()), zap.Error(err))
			continue
		}
		h.send(n.Recipients, msg)
	}
}

// send pushes msg to all connections of the recipients. A full buffer drops the message
// for that connection only.
func (h *Hub) send(recipients []uuid.UUID, msg WSMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, uid := range recipients {
		for _, c := range h.users[uid] {
			if !c.enqueue(msg) {
				metrics.DroppedMessages.Inc()
				h.logger.Warn("send buffer full, dropping message", zap.String("conn_id", c.ID), zap.String("event", msg.Event))
			}
		}
	}
}

// Reply sends to exactly one connection.
func (h *Hub) Reply(c *Client, event string, payload interface{}) {
	msg, err := encode(event, payload, 0)
	if err != nil {
		h.logger.Error("encode reply", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.users[c.UserID][c.ID]; !ok {
		return
	}
	if !c.enqueue(msg) {
		metrics.DroppedMessages.Inc()
	}
}

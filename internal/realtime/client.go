package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/auth"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced on the REST routes; the token gates the socket
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Seq   uint64          `json:"seq,omitempty"`
}

// InboundHandler receives every event read from a connection.
type InboundHandler interface {
	HandleInbound(ctx context.Context, c *Client, msg WSMessage)
}

// Client represents a single WebSocket connection of one identity.
type Client struct {
	ID          string
	UserID      uuid.UUID
	Identity    models.Identity
	ConnectedAt time.Time
	hub         *Hub
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// NewClient creates a connection record. conn may be nil for connections that are only
// delivered to, such as in tests.
func NewClient(hub *Hub, id models.Identity, conn *websocket.Conn, buffer int, logger *zap.Logger) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		ID:          uuid.New().String(),
		UserID:      id.UserID,
		Identity:    id,
		ConnectedAt: time.Now(),
		hub:         hub,
		conn:        conn,
		send:        make(chan WSMessage, buffer),
		logger:      logger,
	}
}

// Messages exposes the outbound queue for connections without a socket.
func (c *Client) Messages() <-chan WSMessage { return c.send }

// Reply sends to this connection only.
func (c *Client) Reply(event string, payload interface{}) {
	c.hub.Reply(c, event, payload)
}

func (c *Client) enqueue(msg WSMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ServeWs authenticates the handshake with the verifier, then runs the client loop.
// The token comes from the "token" query parameter or a bearer Authorization header.
func ServeWs(hub *Hub, verifier auth.Verifier, handler InboundHandler, buffer int, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		id, err := verifier.Verify(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(hub, id, conn, buffer, logger)
		hub.Register(client)
		go client.writePump()
		client.readPump(handler)
	}
}

func (c *Client) readPump(handler InboundHandler) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
			msg = WSMessage{Event: ""}
		}
		handler.HandleInbound(context.Background(), c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package chat

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/middleware"
	"github.com/aura-livepoll/backend/internal/observability"
	"github.com/aura-livepoll/backend/pkg/response"
)

// SendRequest is the body for POST /sessions/:id/messages.
type SendRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

// Handler handles chat HTTP endpoints.
type Handler struct {
	relay  *Relay
	logger *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(relay *Relay, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{relay: relay, logger: logger}
}

func (h *Handler) fail(c *gin.Context, err error) {
	observability.Report(h.logger, "chat request failed", err, zap.String("path", c.FullPath()))
	response.Error(c, err)
}

// List handles GET /sessions/:id/messages?limit=&before=RFC3339.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			response.BadRequest(c, "before must be an RFC3339 timestamp")
			return
		}
		before = &t
	}
	list, err := h.relay.List(c.Request.Context(), middleware.Identity(c).UserID, sessionID, before, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// Send handles POST /sessions/:id/messages.
func (h *Handler) Send(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.relay.Send(c.Request.Context(), middleware.Identity(c), sessionID, req.Content, req.MessageType)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, m)
}

// Delete handles DELETE /messages/:id.
func (h *Handler) Delete(c *gin.Context) {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid message id")
		return
	}
	if err := h.relay.Delete(c.Request.Context(), middleware.Identity(c), messageID); err != nil {
		h.fail(c, err)
		return
	}
	response.NoContent(c)
}

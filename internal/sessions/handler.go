package sessions

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/middleware"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/observability"
	"github.com/aura-livepoll/backend/pkg/response"
)

// Presence reports whether an identity has a live connection.
type Presence interface {
	Connected(userID uuid.UUID) bool
}

// SettingsRequest is the settings block of CreateRequest.
type SettingsRequest struct {
	AllowChat            *bool `json:"allowChat"`
	AllowAnonymousVoting *bool `json:"allowAnonymousVoting"`
	ShowLiveResults      *bool `json:"showLiveResults"`
	AutoEndPolls         *bool `json:"autoEndPolls"`
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Name            string          `json:"name" binding:"required"`
	MaxParticipants int             `json:"maxParticipants" binding:"omitempty,min=1,max=1000"`
	Settings        SettingsRequest `json:"settings"`
}

// JoinRequest is the body for POST /sessions/join.
type JoinRequest struct {
	Code string `json:"code" binding:"required"`
}

// Handler handles session HTTP endpoints.
type Handler struct {
	manager  *Manager
	presence Presence
	logger   *zap.Logger
}

// NewHandler creates a sessions handler.
func NewHandler(manager *Manager, presence Presence, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, presence: presence, logger: logger}
}

func (h *Handler) fail(c *gin.Context, err error) {
	observability.Report(h.logger, "session request failed", err, zap.String("path", c.FullPath()))
	response.Error(c, err)
}

// Create handles POST /sessions (teacher).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	cfg := models.DefaultSessionConfig(req.MaxParticipants)
	if req.Settings.AllowChat != nil {
		cfg.AllowChat = *req.Settings.AllowChat
	}
	if req.Settings.AllowAnonymousVoting != nil {
		cfg.AllowAnonymousVoting = *req.Settings.AllowAnonymousVoting
	}
	if req.Settings.ShowLiveResults != nil {
		cfg.ShowLiveResults = *req.Settings.ShowLiveResults
	}
	if req.Settings.AutoEndPolls != nil {
		cfg.AutoEndPolls = *req.Settings.AutoEndPolls
	}

	s, err := h.manager.CreateSession(c.Request.Context(), middleware.Identity(c), req.Name, cfg)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, s)
}

// Join handles POST /sessions/join.
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	id := middleware.Identity(c)
	p, err := h.manager.Join(c.Request.Context(), id, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	cur, err := h.manager.Current(id.UserID)
	if err != nil {
		response.OK(c, gin.H{"participant": p})
		return
	}
	response.OK(c, gin.H{"participant": p, "session": cur.Session, "participants": cur.Participants})
}

// Leave handles POST /sessions/leave.
func (h *Handler) Leave(c *gin.Context) {
	if err := h.manager.Leave(c.Request.Context(), middleware.Identity(c).UserID); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"left": true})
}

// Current handles GET /sessions/current.
func (h *Handler) Current(c *gin.Context) {
	cur, err := h.manager.Current(middleware.Identity(c).UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, cur)
}

// History handles GET /sessions/history (teacher).
func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.manager.History(c.Request.Context(), middleware.Identity(c).UserID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// Participants handles GET /sessions/:id/participants.
func (h *Handler) Participants(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	list, err := h.manager.Participants(middleware.Identity(c).UserID, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// End handles POST /sessions/:id/end (teacher).
func (h *Handler) End(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if err := h.manager.EndSession(c.Request.Context(), middleware.Identity(c), sessionID); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"id": sessionID, "ended": true})
}

// Kick handles POST /sessions/:id/kick/:userId (teacher).
func (h *Handler) Kick(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	actor := middleware.Identity(c)
	if current, ok := h.manager.SessionOf(actor.UserID); !ok || current != sessionID {
		response.Forbidden(c, "only the session teacher can remove participants")
		return
	}
	if err := h.manager.Kick(c.Request.Context(), actor, targetID); err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, gin.H{"userId": targetID, "kicked": true})
}

// Stats handles GET /sessions/:id/stats (teacher).
func (h *Handler) Stats(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var connected func(uuid.UUID) bool
	if h.presence != nil {
		connected = h.presence.Connected
	}
	st, err := h.manager.Stats(middleware.Identity(c).UserID, sessionID, connected)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, st)
}

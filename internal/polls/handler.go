package polls

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

// CreateRequest is the body for POST /sessions/:id/polls.
type CreateRequest struct {
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options" binding:"required"`
	Duration int      `json:"duration"`
}

// VoteRequest is the body for POST /polls/:id/vote. selectedOption is an index or the option text.
type VoteRequest struct {
	SelectedOption *models.OptionRef `json:"selectedOption" binding:"required"`
}

// Handler handles poll HTTP endpoints.
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a polls handler.
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) fail(c *gin.Context, err error) {
	observability.Report(h.logger, "poll request failed", err, zap.String("path", c.FullPath()))
	response.Error(c, err)
}

// Create handles POST /sessions/:id/polls (teacher).
func (h *Handler) Create(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	p, err := h.engine.CreatePoll(c.Request.Context(), middleware.Identity(c), sessionID, req.Question, req.Options, req.Duration)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, p)
}

// Current handles GET /sessions/:id/polls/current.
func (h *Handler) Current(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	v, err := h.engine.Current(middleware.Identity(c).UserID, sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, v)
}

// History handles GET /sessions/:id/polls/history.
func (h *Handler) History(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.engine.History(c.Request.Context(), middleware.Identity(c).UserID, sessionID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, list)
}

// End handles POST /sessions/:id/polls/end (teacher).
func (h *Handler) End(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	p, err := h.engine.EndPoll(c.Request.Context(), middleware.Identity(c), sessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, p)
}

// Vote handles POST /polls/:id/vote (student).
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: selectedOption must be an option index or text")
		return
	}
	v, err := h.engine.Vote(c.Request.Context(), middleware.Identity(c), pollID, *req.SelectedOption)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.OK(c, v)
}

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/pkg/response"
)

// Joiner is the part of the session manager used when a student joins on sign-in.
type Joiner interface {
	Join(ctx context.Context, id models.Identity, code string) (*models.Participant, error)
	SessionOf(userID uuid.UUID) (uuid.UUID, bool)
}

// JoinRequest is the body for POST /auth/join.
type JoinRequest struct {
	Name        string `json:"name" binding:"required,max=50"`
	Role        string `json:"role" binding:"required,oneof=teacher student"`
	SessionCode string `json:"sessionCode"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token       string              `json:"token"`
	User        models.UserPublic   `json:"user"`
	Participant *models.Participant `json:"participant,omitempty"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	store    Store
	jwt      *JWTService
	sessions Joiner
	logger   *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(store Store, jwt *JWTService, sessions Joiner, logger *zap.Logger) *Handler {
	return &Handler{store: store, jwt: jwt, sessions: sessions, logger: logger}
}

// Join handles POST /auth/join. It issues a fresh identity and, for students with a
// session code, joins that session.
func (h *Handler) Join(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		response.BadRequest(c, "name is required")
		return
	}
	id := models.Identity{UserID: uuid.New(), Name: name, Role: models.Role(req.Role)}
	if id.Role == models.RoleStudent && strings.TrimSpace(req.SessionCode) == "" {
		response.BadRequest(c, "sessionCode is required for students")
		return
	}

	now := time.Now().UTC()
	if err := h.store.CreateUser(c.Request.Context(), id, now); err != nil {
		h.logger.Error("create user", zap.Error(err))
		response.Error(c, apperr.Unexpected(err))
		return
	}

	resp := TokenResponse{User: models.UserPublic{ID: id.UserID, Name: id.Name, Role: id.Role, IssuedAt: &now}}
	if id.Role == models.RoleStudent {
		p, err := h.sessions.Join(c.Request.Context(), id, req.SessionCode)
		if err != nil {
			response.Error(c, err)
			return
		}
		resp.Participant = p
		resp.User.SessionID = &p.SessionID
	}

	token, err := h.jwt.Generate(id)
	if err != nil {
		h.logger.Error("generate token", zap.Error(err))
		response.Internal(c, "failed to generate token")
		return
	}
	resp.Token = token
	response.Created(c, resp)
}

// Me handles GET /auth/me.
func (h *Handler) Me(c *gin.Context) {
	id := c.MustGet("identity").(models.Identity)
	u := models.UserPublic{ID: id.UserID, Name: id.Name, Role: id.Role}
	if sid, ok := h.sessions.SessionOf(id.UserID); ok {
		u.SessionID = &sid
	}
	response.OK(c, u)
}

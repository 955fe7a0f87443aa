package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-livepoll/backend/internal/auth"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextIdentity is the key for the verified models.Identity in gin context.
	ContextIdentity = "identity"
)

// JWT returns a middleware that verifies the bearer credential and sets the identity in context.
func JWT(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		id, err := verifier.Verify(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextIdentity, id)
		c.Set(ContextUserID, id.UserID)
		c.Set(ContextUserRole, id.Role)
		c.Next()
	}
}

// Identity returns the identity set by JWT. It panics if the middleware did not run.
func Identity(c *gin.Context) models.Identity {
	return c.MustGet(ContextIdentity).(models.Identity)
}

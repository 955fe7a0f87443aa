package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aura-livepoll/backend/internal/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool                   `json:"success"`
	Data    interface{}            `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err, Code: apperr.CodeInvalidRequest})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err, Code: apperr.CodeAuthFailure})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err, Code: apperr.CodeForbidden})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err, Code: apperr.CodeInternal})
}

// Error sends the envelope for a domain failure. Unexpected failures never expose their cause.
func Error(c *gin.Context, err error) {
	ae := apperr.From(err)
	c.JSON(Status(ae), Body{Success: false, Error: ae.Message, Code: ae.Code, Details: ae.Details})
}

// Status maps a failure to its HTTP status class.
func Status(err error) int {
	ae := apperr.From(err)
	if ae.Code == apperr.CodeKickedCooldown {
		return http.StatusForbidden
	}
	switch ae.Kind {
	case apperr.KindAuthFailure:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

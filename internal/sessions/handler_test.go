package sessions_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/auth"
	"github.com/aura-livepoll/backend/internal/middleware"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/sessions"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type api struct {
	router *gin.Engine
	jwt    *auth.JWTService
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	jwt := auth.NewJWTService("test-secret", 1)
	h := sessions.NewHandler(f.m, nil, nil)

	r := gin.New()
	teacherOnly := middleware.RequireRole(models.RoleTeacher)
	g := r.Group("")
	g.Use(middleware.JWT(jwt))
	g.POST("/sessions", teacherOnly, h.Create)
	g.POST("/sessions/join", h.Join)
	g.POST("/sessions/leave", h.Leave)
	g.GET("/sessions/current", h.Current)
	g.GET("/sessions/:id/participants", h.Participants)
	g.POST("/sessions/:id/kick/:userId", teacherOnly, h.Kick)
	g.POST("/sessions/:id/end", teacherOnly, h.End)
	return &api{router: r, jwt: jwt}
}

func (a *api) do(t *testing.T, method, path string, id *models.Identity, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		token, err := a.jwt.Generate(*id)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestHandlerSessionFlow(t *testing.T) {
	a := newAPI(t)
	teach := teacher("Ms. Rao")
	rahul := student("Rahul")

	status, env := a.do(t, http.MethodPost, "/sessions", &teach, gin.H{
		"name":            "Math Quiz",
		"maxParticipants": 30,
		"settings":        gin.H{"allowChat": false},
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	var s models.Session
	require.NoError(t, json.Unmarshal(env.Data, &s))
	assert.Len(t, s.Code, 6)
	assert.False(t, s.Config.AllowChat)
	assert.True(t, s.Config.ShowLiveResults)

	status, env = a.do(t, http.MethodPost, "/sessions/join", &rahul, gin.H{"code": s.Code})
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = a.do(t, http.MethodGet, "/sessions/"+s.ID.String()+"/participants", &rahul, nil)
	require.Equal(t, http.StatusOK, status)
	var roster []models.Participant
	require.NoError(t, json.Unmarshal(env.Data, &roster))
	assert.Len(t, roster, 2)

	status, _ = a.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/kick/"+rahul.UserID.String(), &teach, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = a.do(t, http.MethodPost, "/sessions/join", &rahul, gin.H{"code": s.Code})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperr.CodeKickedCooldown, env.Code)

	status, _ = a.do(t, http.MethodPost, "/sessions/"+s.ID.String()+"/end", &teach, nil)
	require.Equal(t, http.StatusOK, status)

	status, env = a.do(t, http.MethodPost, "/sessions/join", &rahul, gin.H{"code": s.Code})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.CodeSessionNotFound, env.Code)
}

func TestHandlerAuthAndRoles(t *testing.T) {
	a := newAPI(t)
	rahul := student("Rahul")

	status, env := a.do(t, http.MethodGet, "/sessions/current", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperr.CodeAuthFailure, env.Code)

	status, _ = a.do(t, http.MethodPost, "/sessions", &rahul, gin.H{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, status)

	status, env = a.do(t, http.MethodGet, "/sessions/current", &rahul, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, apperr.CodeSessionNotFound, env.Code)

	status, _ = a.do(t, http.MethodGet, "/sessions/not-a-uuid/participants", &rahul, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = a.do(t, http.MethodPost, "/sessions/leave", &rahul, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperr.CodeNotAParticipant, env.Code)
}

func TestHandlerKickRequiresOwnSession(t *testing.T) {
	a := newAPI(t)
	teach := teacher("Ms. Rao")
	status, _ := a.do(t, http.MethodPost, "/sessions/"+uuid.NewString()+"/kick/"+uuid.NewString(), &teach, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

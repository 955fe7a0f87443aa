package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/models"
)

func TestGenerateAndVerify(t *testing.T) {
	svc := NewJWTService("secret", 1)
	id := models.Identity{UserID: uuid.New(), Name: "Rahul", Role: models.RoleStudent}

	token, err := svc.Generate(id)
	require.NoError(t, err)

	got, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerifyRejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	id := models.Identity{UserID: uuid.New(), Name: "Rahul", Role: models.RoleStudent}
	token, err := svc.Generate(id)
	require.NoError(t, err)

	_, err = svc.Verify("")
	assert.True(t, errors.Is(err, apperr.ErrAuthFailure))

	_, err = svc.Verify("not-a-jwt")
	assert.True(t, errors.Is(err, apperr.ErrAuthFailure))

	other := NewJWTService("another-secret", 1)
	_, err = other.Verify(token)
	assert.True(t, errors.Is(err, apperr.ErrAuthFailure))

	expired := NewJWTService("secret", 1)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Verify(token)
	assert.True(t, errors.Is(err, apperr.ErrAuthFailure))
}

func TestVerifyRejectsUnknownRole(t *testing.T) {
	svc := NewJWTService("secret", 1)
	token, err := svc.Generate(models.Identity{UserID: uuid.New(), Name: "X", Role: models.Role("admin")})
	require.NoError(t, err)
	_, err = svc.Verify(token)
	assert.Equal(t, apperr.KindAuthFailure, apperr.KindOf(err))
}

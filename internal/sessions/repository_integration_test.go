//go:build integration

package sessions_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/sessions"
	"github.com/aura-livepoll/backend/internal/testutil/testdb"
)

var db *testdb.Handle

func TestMain(m *testing.M) {
	h, err := testdb.Start(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "testdb:", err)
		os.Exit(1)
	}
	db = h
	code := m.Run()
	h.Close()
	os.Exit(code)
}

func newSession(owner uuid.UUID, code string) *models.Session {
	return &models.Session{
		ID:        uuid.New(),
		Code:      code,
		Name:      "Math Quiz",
		OwnerID:   owner,
		Config:    models.DefaultSessionConfig(30),
		Status:    models.SessionActive,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestRepositorySessionLifecycle(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, db.Reset(ctx))
	repo := sessions.NewRepository(db.Pool)

	owner := uuid.New()
	s := newSession(owner, "AB12CD")
	require.NoError(t, repo.CreateSession(ctx, s))

	inUse, err := repo.CodeInUse(ctx, "AB12CD")
	require.NoError(t, err)
	assert.True(t, inUse)

	// a second ACTIVE session cannot hold the same code
	assert.Error(t, repo.CreateSession(ctx, newSession(owner, "AB12CD")))

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Config, got.Config)
	assert.Equal(t, models.SessionActive, got.Status)

	active, err := repo.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, repo.EndSession(ctx, s.ID, time.Now().UTC()))
	inUse, err = repo.CodeInUse(ctx, "AB12CD")
	require.NoError(t, err)
	assert.False(t, inUse)
	require.NoError(t, repo.CreateSession(ctx, newSession(owner, "AB12CD")))

	history, err := repo.ListSessionsByOwner(ctx, owner, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRepositoryParticipants(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, db.Reset(ctx))
	repo := sessions.NewRepository(db.Pool)

	s := newSession(uuid.New(), "ZX98WV")
	require.NoError(t, repo.CreateSession(ctx, s))

	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &models.Participant{
		SessionID: s.ID,
		UserID:    uuid.New(),
		Name:      "Rahul",
		Role:      models.RoleStudent,
		Status:    models.MemberActive,
		JoinedAt:  now,
		LastSeen:  now,
	}
	require.NoError(t, repo.UpsertParticipant(ctx, p))

	kicked := *p
	kicked.Status = models.MemberKicked
	kicked.KickedAt = &now
	require.NoError(t, repo.UpsertParticipant(ctx, &kicked))

	later := now.Add(time.Minute)
	require.NoError(t, repo.TouchParticipant(ctx, s.ID, p.UserID, later))

	list, err := repo.ListParticipants(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.MemberKicked, list[0].Status)
	require.NotNil(t, list[0].KickedAt)
	assert.True(t, list[0].KickedAt.Equal(now))
	assert.True(t, list[0].LastSeen.Equal(later))
}

func TestRepositoryDeleteSession(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, db.Reset(ctx))
	repo := sessions.NewRepository(db.Pool)

	s := newSession(uuid.New(), "DL34XY")
	require.NoError(t, repo.CreateSession(ctx, s))
	require.NoError(t, repo.DeleteSession(ctx, s.ID))

	_, err := repo.GetSession(ctx, s.ID)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	active, err := repo.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestManagerRestoresFromPostgres(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, db.Reset(ctx))
	repo := sessions.NewRepository(db.Pool)

	m := sessions.NewManager(repo, sessions.Options{}, nil)
	owner := models.Identity{UserID: uuid.New(), Name: "Ms. Rao", Role: models.RoleTeacher}
	s, err := m.CreateSession(ctx, owner, "Math Quiz", models.DefaultSessionConfig(30))
	require.NoError(t, err)
	rahul := models.Identity{UserID: uuid.New(), Name: "Rahul", Role: models.RoleStudent}
	_, err = m.Join(ctx, rahul, s.Code)
	require.NoError(t, err)

	restored := sessions.NewManager(repo, sessions.Options{}, nil)
	require.NoError(t, restored.Restore(ctx))
	sid, ok := restored.SessionOf(rahul.UserID)
	require.True(t, ok)
	assert.Equal(t, s.ID, sid)
	assert.Len(t, restored.ActiveMembers(s.ID), 2)
}

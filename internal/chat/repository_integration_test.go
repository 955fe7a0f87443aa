//go:build integration

package chat_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/chat"
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

func TestRepositoryMessages(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, db.Reset(ctx))
	repo := chat.NewRepository(db.Pool)

	base := time.Now().UTC().Truncate(time.Microsecond)
	s := &models.Session{ID: uuid.New(), Code: "CH4T00", Name: "Chat", OwnerID: uuid.New(),
		Config: models.DefaultSessionConfig(30), Status: models.SessionActive, CreatedAt: base}
	require.NoError(t, sessions.NewRepository(db.Pool).CreateSession(ctx, s))

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		m := &models.ChatMessage{
			ID:          uuid.New(),
			SessionID:   s.ID,
			SenderID:    s.OwnerID,
			SenderName:  "Teacher",
			SenderRole:  models.RoleTeacher,
			Content:     fmt.Sprintf("message %d", i),
			MessageType: "text",
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, repo.CreateMessage(ctx, m))
		ids = append(ids, m.ID)
	}

	recent, err := repo.ListMessages(ctx, s.ID, nil, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "message 2", recent[0].Content)
	assert.Equal(t, "message 4", recent[2].Content)

	before := base.Add(2 * time.Second)
	older, err := repo.ListMessages(ctx, s.ID, &before, 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "message 0", older[0].Content)

	got, err := repo.GetMessage(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.RoleTeacher, got.SenderRole)

	require.NoError(t, repo.DeleteMessage(ctx, ids[0]))
	_, err = repo.GetMessage(ctx, ids[0])
	assert.True(t, errors.Is(err, apperr.ErrMessageNotFound))
}

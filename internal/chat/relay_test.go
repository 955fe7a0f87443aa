package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/chat"
	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/memstore"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/sessions"
)

type recorder struct {
	mu    sync.Mutex
	notes []events.Notification
}

func (r *recorder) Deliver(_ context.Context, _ uuid.UUID, notes []events.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, notes...)
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, note := range r.notes {
		if note.Event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	relay   *chat.Relay
	manager *sessions.Manager
	sink    *recorder
	owner   models.Identity
	ann     models.Identity
	session *models.Session
}

func newFixture(t *testing.T, allowChat bool) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	manager := sessions.NewManager(store, sessions.Options{}, nil)
	sink := &recorder{}
	manager.SetSink(sink)

	owner := models.Identity{UserID: uuid.New(), Name: "Teacher", Role: models.RoleTeacher}
	cfg := models.DefaultSessionConfig(20)
	cfg.AllowChat = allowChat
	s, err := manager.CreateSession(ctx, owner, "History", cfg)
	require.NoError(t, err)
	ann := models.Identity{UserID: uuid.New(), Name: "Ann", Role: models.RoleStudent}
	_, err = manager.Join(ctx, ann, s.Code)
	require.NoError(t, err)

	return &fixture{
		relay:   chat.NewRelay(manager, store, 20, 3, nil),
		manager: manager,
		sink:    sink,
		owner:   owner,
		ann:     ann,
		session: s,
	}
}

func TestSendBroadcastsToActiveMembers(t *testing.T) {
	f := newFixture(t, true)
	m, err := f.relay.Send(context.Background(), f.ann, f.session.ID, "  hello  ", "")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, "text", m.MessageType)
	assert.Equal(t, "Ann", m.SenderName)
	assert.Equal(t, models.RoleStudent, m.SenderRole)

	f.sink.mu.Lock()
	last := f.sink.notes[len(f.sink.notes)-1]
	f.sink.mu.Unlock()
	assert.Equal(t, events.NewMessage, last.Event)
	assert.ElementsMatch(t, []uuid.UUID{f.owner.UserID, f.ann.UserID}, last.Recipients)
}

func TestSendRejectsWhenChatDisabled(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for _, id := range []models.Identity{f.owner, f.ann} {
		_, err := f.relay.Send(ctx, id, f.session.ID, "hi", "text")
		assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	}
	assert.Equal(t, 0, f.sink.count(events.NewMessage))
}

func TestSendContentRules(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.relay.Send(ctx, f.ann, f.session.ID, "   ", "text")
	assert.True(t, errors.Is(err, apperr.ErrEmptyContent))

	_, err = f.relay.Send(ctx, f.ann, f.session.ID, strings.Repeat("é", 21), "text")
	assert.True(t, errors.Is(err, apperr.ErrContentTooLong))

	_, err = f.relay.Send(ctx, f.ann, f.session.ID, strings.Repeat("é", 20), "text")
	assert.NoError(t, err)
}

func TestSendRequiresActiveMembership(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.manager.Kick(ctx, f.owner, f.ann.UserID))

	_, err := f.relay.Send(ctx, f.ann, f.session.ID, "hi", "text")
	assert.True(t, errors.Is(err, apperr.ErrNotAParticipant))
}

func TestListHonorsLimit(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := f.relay.Send(ctx, f.ann, f.session.ID, "msg", "text")
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	list, err := f.relay.List(ctx, f.owner.UserID, f.session.ID, nil, 100)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	_, err = f.relay.List(ctx, uuid.New(), f.session.ID, nil, 0)
	assert.True(t, errors.Is(err, apperr.ErrNotAParticipant))
}

func TestDeletePermissions(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	bob := models.Identity{UserID: uuid.New(), Name: "Bob", Role: models.RoleStudent}
	_, err := f.manager.Join(ctx, bob, f.session.Code)
	require.NoError(t, err)

	m, err := f.relay.Send(ctx, f.ann, f.session.ID, "oops", "text")
	require.NoError(t, err)

	err = f.relay.Delete(ctx, bob, m.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, f.relay.Delete(ctx, f.owner, m.ID))
	assert.Equal(t, 1, f.sink.count(events.MessageDeleted))

	err = f.relay.Delete(ctx, f.ann, m.ID)
	assert.True(t, errors.Is(err, apperr.ErrMessageNotFound))
}

func TestListAfterSessionEnded(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := f.relay.Send(ctx, f.ann, f.session.ID, "see you", "")
	require.NoError(t, err)
	require.NoError(t, f.manager.EndSession(ctx, f.owner, f.session.ID))

	for _, id := range []models.Identity{f.owner, f.ann} {
		list, err := f.relay.List(ctx, id.UserID, f.session.ID, nil, 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "see you", list[0].Content)
	}

	_, err = f.relay.List(ctx, uuid.New(), f.session.ID, nil, 0)
	assert.True(t, errors.Is(err, apperr.ErrNotAParticipant))

	_, err = f.relay.List(ctx, f.owner.UserID, uuid.New(), nil, 0)
	assert.True(t, errors.Is(err, apperr.ErrSessionNotFound))
}

package dispatch_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/chat"
	"github.com/aura-livepoll/backend/internal/dispatch"
	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/memstore"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/polls"
	"github.com/aura-livepoll/backend/internal/realtime"
	"github.com/aura-livepoll/backend/internal/sessions"
)

type reply struct {
	event   string
	payload interface{}
}

type fakeConn struct {
	mu      sync.Mutex
	replies []reply
}

func (c *fakeConn) Reply(event string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, reply{event, payload})
}

func (c *fakeConn) last(t *testing.T) reply {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.replies)
	return c.replies[len(c.replies)-1]
}

func (c *fakeConn) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies)
}

type fanout struct {
	mu    sync.Mutex
	notes []events.Notification
}

func (f *fanout) Deliver(_ context.Context, _ uuid.UUID, notes []events.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, notes...)
}

func (f *fanout) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.notes))
	for i, n := range f.notes {
		out[i] = n.Event
	}
	return out
}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

type fixture struct {
	d       *dispatch.Dispatcher
	manager *sessions.Manager
	engine  *polls.Engine
	out     *fanout
	owner   models.Identity
	ann     models.Identity
	session *models.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	manager := sessions.NewManager(store, sessions.Options{}, nil)
	engine := polls.NewEngine(manager, store, polls.Options{
		AfterFunc: func(time.Duration, func()) polls.Timer { return idleTimer{} },
	}, nil)
	manager.SetPollCloser(engine)
	relay := chat.NewRelay(manager, store, 0, 0, nil)
	out := &fanout{}
	d := dispatch.New(manager, engine, relay, out, nil)
	manager.SetSink(d)

	owner := models.Identity{UserID: uuid.New(), Name: "Teacher", Role: models.RoleTeacher}
	cfg := models.DefaultSessionConfig(20)
	cfg.AutoEndPolls = false
	s, err := manager.CreateSession(ctx, owner, "Physics", cfg)
	require.NoError(t, err)
	ann := models.Identity{UserID: uuid.New(), Name: "Ann", Role: models.RoleStudent}
	_, err = manager.Join(ctx, ann, s.Code)
	require.NoError(t, err)
	return &fixture{d: d, manager: manager, engine: engine, out: out, owner: owner, ann: ann, session: s}
}

func msg(t *testing.T, event string, data interface{}) realtime.WSMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return realtime.WSMessage{Event: event, Data: raw}
}

func errorPayload(t *testing.T, r reply) dispatch.ErrorPayload {
	t.Helper()
	require.Equal(t, events.Error, r.event)
	p, ok := r.payload.(dispatch.ErrorPayload)
	require.True(t, ok)
	return p
}

func TestPing(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	f.d.Handle(context.Background(), f.ann, conn, realtime.WSMessage{Event: events.InPing})
	assert.Equal(t, events.Pong, conn.last(t).event)
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	ctx := context.Background()

	f.d.Handle(ctx, f.ann, conn, realtime.WSMessage{})
	assert.Equal(t, apperr.CodeInvalidRequest, errorPayload(t, conn.last(t)).Code)

	f.d.Handle(ctx, f.ann, conn, realtime.WSMessage{Event: "dance"})
	p := errorPayload(t, conn.last(t))
	assert.Equal(t, apperr.CodeInvalidRequest, p.Code)
	assert.Equal(t, "dance", p.RequestEvent)

	f.d.Handle(ctx, f.ann, conn, realtime.WSMessage{Event: events.InVote, Data: json.RawMessage(`{"pollId":`)})
	assert.Equal(t, apperr.CodeInvalidRequest, errorPayload(t, conn.last(t)).Code)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	f.d.Handle(context.Background(), f.ann, conn, msg(t, events.InSendMessage, map[string]string{"content": "hi"}))

	assert.Equal(t, 0, conn.len())
	assert.Contains(t, f.out.events(), events.NewMessage)
}

func TestSendMessageToForeignSession(t *testing.T) {
	f := newFixture(t)
	conn := &fakeConn{}
	f.d.Handle(context.Background(), f.ann, conn, msg(t, events.InSendMessage, map[string]interface{}{
		"sessionId": uuid.New(),
		"content":   "hi",
	}))
	assert.Equal(t, apperr.CodeNotAParticipant, errorPayload(t, conn.last(t)).Code)
}

func TestVoteAndError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.engine.CreatePoll(ctx, f.owner, f.session.ID, "Pick", []string{"red", "blue"}, 30)
	require.NoError(t, err)

	conn := &fakeConn{}
	f.d.Handle(ctx, f.ann, conn, msg(t, events.InVote, map[string]interface{}{"pollId": p.ID, "selectedOption": "blue"}))
	assert.Equal(t, 0, conn.len())
	assert.Contains(t, f.out.events(), events.VoteConfirmed)

	f.d.Handle(ctx, f.ann, conn, msg(t, events.InVote, map[string]interface{}{"pollId": p.ID, "selectedOption": 9}))
	assert.Equal(t, apperr.CodeInvalidOption, errorPayload(t, conn.last(t)).Code)
}

func TestVoteWithNullOptionIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.engine.CreatePoll(ctx, f.owner, f.session.ID, "Pick", []string{"red", "blue"}, 30)
	require.NoError(t, err)

	conn := &fakeConn{}
	f.d.Handle(ctx, f.ann, conn, msg(t, events.InVote, map[string]interface{}{"pollId": p.ID, "selectedOption": nil}))
	assert.Equal(t, apperr.CodeInvalidRequest, errorPayload(t, conn.last(t)).Code)
	assert.NotContains(t, f.out.events(), events.VoteConfirmed)

	f.d.Handle(ctx, f.ann, conn, msg(t, events.InVote, map[string]interface{}{"pollId": p.ID}))
	assert.Equal(t, apperr.CodeInvalidOption, errorPayload(t, conn.last(t)).Code)

	cur, err := f.engine.Current(f.ann.UserID, f.session.ID)
	require.NoError(t, err)
	assert.False(t, cur.HasVoted)
	assert.Equal(t, 0, cur.TotalVotes)
}

func TestKickUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conn := &fakeConn{}

	f.d.Handle(ctx, f.ann, conn, msg(t, events.InKickUser, map[string]interface{}{"userId": f.owner.UserID}))
	assert.Equal(t, apperr.CodeForbidden, errorPayload(t, conn.last(t)).Code)

	f.d.Handle(ctx, f.owner, conn, msg(t, events.InKickUser, map[string]interface{}{"userId": f.ann.UserID}))
	assert.Contains(t, f.out.events(), events.KickedOut)

	f.d.Handle(ctx, f.ann, conn, msg(t, events.InVote, map[string]interface{}{"pollId": uuid.New(), "selectedOption": 0}))
	assert.Equal(t, apperr.CodePollNotFound, errorPayload(t, conn.last(t)).Code)
}

func TestSyncSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.CreatePoll(ctx, f.owner, f.session.ID, "Pick", []string{"a", "b"}, 30)
	require.NoError(t, err)

	conn := &fakeConn{}
	f.d.Handle(ctx, f.ann, conn, realtime.WSMessage{Event: events.InSync})
	r := conn.last(t)
	require.Equal(t, events.Sync, r.event)
	snap := r.payload.(*dispatch.SyncSnapshot)
	require.NotNil(t, snap.Session)
	assert.Equal(t, f.session.ID, snap.Session.ID)
	assert.Len(t, snap.Participants, 2)
	require.NotNil(t, snap.Poll)
	assert.Equal(t, "Pick", snap.Poll.Question)

	stranger := models.Identity{UserID: uuid.New(), Name: "X", Role: models.RoleStudent}
	f.d.Handle(ctx, stranger, conn, realtime.WSMessage{Event: events.InSync})
	empty := conn.last(t).payload.(*dispatch.SyncSnapshot)
	assert.Nil(t, empty.Session)
	assert.Nil(t, empty.Poll)
}

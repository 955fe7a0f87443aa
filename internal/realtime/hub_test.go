package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/models"
)

type staticRoster map[uuid.UUID][]uuid.UUID

func (r staticRoster) ActiveMembers(sessionID uuid.UUID) []uuid.UUID { return r[sessionID] }

func identity() models.Identity {
	return models.Identity{UserID: uuid.New(), Name: "Ann", Role: models.RoleStudent}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case m, ok := <-c.Messages():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestDeliverReachesEveryConnection(t *testing.T) {
	h := NewHub(nil, nil)
	id := identity()
	tab1 := NewClient(h, id, nil, 8, nil)
	tab2 := NewClient(h, id, nil, 8, nil)
	other := NewClient(h, identity(), nil, 8, nil)
	h.Register(tab1)
	h.Register(tab2)
	h.Register(other)
	assert.Equal(t, 2, h.ConnectionCount(id.UserID))

	h.Deliver(context.Background(), uuid.New(), []events.Notification{
		{Event: events.NewMessage, Payload: map[string]string{"content": "hi"}, Recipients: []uuid.UUID{id.UserID}, Seq: 4},
	})

	for _, c := range []*Client{tab1, tab2} {
		got := drain(c)
		require.Len(t, got, 1)
		assert.Equal(t, events.NewMessage, got[0].Event)
		assert.Equal(t, uint64(4), got[0].Seq)
		assert.JSONEq(t, `{"content":"hi"}`, string(got[0].Data))
	}
	assert.Empty(t, drain(other))
}

func TestBroadcastUsesRoster(t *testing.T) {
	sessionID := uuid.New()
	a, b := identity(), identity()
	h := NewHub(nil, staticRoster{sessionID: {a.UserID}})
	ca := NewClient(h, a, nil, 8, nil)
	cb := NewClient(h, b, nil, 8, nil)
	h.Register(ca)
	h.Register(cb)

	h.Broadcast(sessionID, events.SessionEnded, map[string]interface{}{"sessionId": sessionID})
	got := drain(ca)
	require.Len(t, got, 1)
	assert.Zero(t, got[0].Seq)
	assert.Empty(t, drain(cb))
}

func TestUnicastIsUnsequencedAlongsideDeliver(t *testing.T) {
	h := NewHub(nil, nil)
	id := identity()
	c := NewClient(h, id, nil, 8, nil)
	h.Register(c)

	h.Deliver(context.Background(), uuid.New(), []events.Notification{
		{Event: events.NewMessage, Payload: "a", Recipients: []uuid.UUID{id.UserID}, Seq: 7},
	})
	h.Unicast(id.UserID, events.Error, map[string]string{"message": "server restarting"})
	h.Deliver(context.Background(), uuid.New(), []events.Notification{
		{Event: events.NewMessage, Payload: "b", Recipients: []uuid.UUID{id.UserID}, Seq: 8},
	})

	got := drain(c)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{7, 0, 8}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, events.Error, got[1].Event)
}

func TestFullBufferDropsOnlyThatConnection(t *testing.T) {
	h := NewHub(nil, nil)
	id := identity()
	slow := NewClient(h, id, nil, 1, nil)
	fast := NewClient(h, id, nil, 8, nil)
	h.Register(slow)
	h.Register(fast)

	for i := 0; i < 3; i++ {
		h.Unicast(id.UserID, events.Pong, nil)
	}
	assert.Len(t, drain(slow), 1)
	assert.Len(t, drain(fast), 3)
}

func TestUnregisterLastConnectionReportsPresence(t *testing.T) {
	h := NewHub(nil, nil)
	var mu sync.Mutex
	var seen []uuid.UUID
	h.SetPresenceHandler(func(userID uuid.UUID) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, userID)
	})
	id := identity()
	c1 := NewClient(h, id, nil, 8, nil)
	c2 := NewClient(h, id, nil, 8, nil)
	h.Register(c1)
	h.Register(c2)

	h.Unregister(c1)
	assert.True(t, h.Connected(id.UserID))
	assert.Empty(t, seen)

	h.Unregister(c2)
	h.Unregister(c2)
	assert.False(t, h.Connected(id.UserID))
	assert.Equal(t, []uuid.UUID{id.UserID}, seen)

	_, open := <-c2.Messages()
	assert.False(t, open)
}

type fakeVerifier struct {
	id models.Identity
}

func (v fakeVerifier) Verify(token string) (models.Identity, error) {
	if token != "good" {
		return models.Identity{}, errors.New("bad token")
	}
	return v.id, nil
}

type echoHandler struct{}

func (echoHandler) HandleInbound(_ context.Context, c *Client, msg WSMessage) {
	c.Reply(events.Pong, map[string]string{"echo": msg.Event})
}

func newWsServer(t *testing.T, h *Hub, id models.Identity) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", ServeWs(h, fakeVerifier{id: id}, echoHandler{}, 8, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestServeWsRejectsBadToken(t *testing.T) {
	srv := newWsServer(t, NewHub(nil, nil), identity())
	resp, err := http.Get(srv.URL + "/ws?token=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWsRoundTrip(t *testing.T) {
	h := NewHub(nil, nil)
	id := identity()
	srv := newWsServer(t, h, id)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=good"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSMessage{Event: events.InPing}))
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got WSMessage
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.Pong, got.Event)
	assert.JSONEq(t, `{"echo":"ping"}`, string(got.Data))
	assert.True(t, h.Connected(id.UserID))
}

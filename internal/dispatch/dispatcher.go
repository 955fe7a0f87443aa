// Package dispatch is the single inbound entry point for WebSocket events and the sink
// through which domain notifications leave for the connection registry.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/metrics"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/observability"
	"github.com/aura-livepoll/backend/internal/polls"
	"github.com/aura-livepoll/backend/internal/realtime"
	"github.com/aura-livepoll/backend/internal/sessions"
)

// Sessions is the session manager surface used by the dispatcher.
type Sessions interface {
	SessionOf(userID uuid.UUID) (uuid.UUID, bool)
	Kick(ctx context.Context, actor models.Identity, targetID uuid.UUID) error
	Current(userID uuid.UUID) (*sessions.CurrentView, error)
}

// Polls is the poll engine surface used by the dispatcher.
type Polls interface {
	Vote(ctx context.Context, voter models.Identity, pollID uuid.UUID, ref models.OptionRef) (*polls.PollView, error)
	Current(userID, sessionID uuid.UUID) (*polls.PollView, error)
}

// Chat is the chat relay surface used by the dispatcher.
type Chat interface {
	Send(ctx context.Context, sender models.Identity, sessionID uuid.UUID, content, messageType string) (*models.ChatMessage, error)
	List(ctx context.Context, userID, sessionID uuid.UUID, before *time.Time, limit int) ([]models.ChatMessage, error)
}

// Conn is the origin connection of an inbound event.
type Conn interface {
	Reply(event string, payload interface{})
}

type sendMessagePayload struct {
	SessionID   *uuid.UUID `json:"sessionId"`
	Content     string     `json:"content"`
	MessageType string     `json:"messageType"`
}

type kickPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type votePayload struct {
	PollID         uuid.UUID        `json:"pollId"`
	SelectedOption models.OptionRef `json:"selectedOption"`
}

// ErrorPayload is the body of an error reply.
type ErrorPayload struct {
	Code         string                 `json:"code"`
	Error        string                 `json:"error"`
	Details      map[string]interface{} `json:"details,omitempty"`
	RequestEvent string                 `json:"requestEvent,omitempty"`
}

// SyncSnapshot is the state a reconnecting client rebuilds its view from.
type SyncSnapshot struct {
	Session      *models.Session      `json:"session"`
	Participant  *models.Participant  `json:"participant,omitempty"`
	Participants []models.Participant `json:"participants"`
	Poll         *polls.PollView      `json:"poll"`
	Messages     []models.ChatMessage `json:"messages"`
	ServerTime   time.Time            `json:"serverTime"`
}

// Dispatcher routes inbound events to the owning component and fans out notifications.
type Dispatcher struct {
	sessions Sessions
	polls    Polls
	chat     Chat
	fanout   events.Sink
	logger   *zap.Logger
}

// New creates a dispatcher. fanout is the connection registry or the Redis relay in front of it.
func New(s Sessions, p Polls, c Chat, fanout events.Sink, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sessions: s, polls: p, chat: c, fanout: fanout, logger: logger}
}

// SetFanout replaces the notification fan-out target.
func (d *Dispatcher) SetFanout(s events.Sink) { d.fanout = s }

// Deliver implements events.Sink.
func (d *Dispatcher) Deliver(ctx context.Context, sessionID uuid.UUID, notes []events.Notification) {
	for _, n := range notes {
		metrics.Notifications.WithLabelValues(n.Event).Inc()
		d.logger.Debug("notification",
			zap.String("session_id", sessionID.String()),
			zap.String("event", n.Event),
			zap.Uint64("seq", n.Seq),
			zap.Int("recipients", len(n.Recipients)),
		)
	}
	if d.fanout != nil {
		d.fanout.Deliver(ctx, sessionID, notes)
	}
}

// HandleInbound implements realtime.InboundHandler.
func (d *Dispatcher) HandleInbound(ctx context.Context, c *realtime.Client, msg realtime.WSMessage) {
	d.Handle(ctx, c.Identity, c, msg)
}

// Handle routes one inbound event from an authenticated connection.
func (d *Dispatcher) Handle(ctx context.Context, id models.Identity, conn Conn, msg realtime.WSMessage) {
	label := msg.Event
	switch msg.Event {
	case events.InSendMessage, events.InKickUser, events.InVote, events.InSync, events.InPing:
	default:
		label = "unknown"
	}
	metrics.InboundEvents.WithLabelValues(label).Inc()

	if err := d.route(ctx, id, conn, msg); err != nil {
		d.replyError(id, conn, msg.Event, err)
	}
}

func (d *Dispatcher) route(ctx context.Context, id models.Identity, conn Conn, msg realtime.WSMessage) error {
	switch msg.Event {
	case events.InPing:
		conn.Reply(events.Pong, map[string]interface{}{"serverTime": time.Now().UTC()})
		return nil

	case events.InSync:
		snap, err := d.snapshot(ctx, id)
		if err != nil {
			return err
		}
		conn.Reply(events.Sync, snap)
		return nil

	case events.InSendMessage:
		var p sendMessagePayload
		if err := decode(msg.Data, &p); err != nil {
			return err
		}
		sessionID, err := d.sessionFor(id, p.SessionID)
		if err != nil {
			return err
		}
		_, err = d.chat.Send(ctx, id, sessionID, p.Content, p.MessageType)
		return err

	case events.InKickUser:
		var p kickPayload
		if err := decode(msg.Data, &p); err != nil {
			return err
		}
		if p.UserID == uuid.Nil {
			return apperr.Invalid("userId is required")
		}
		return d.sessions.Kick(ctx, id, p.UserID)

	case events.InVote:
		var p votePayload
		if err := decode(msg.Data, &p); err != nil {
			return err
		}
		if p.PollID == uuid.Nil {
			return apperr.Invalid("pollId is required")
		}
		_, err := d.polls.Vote(ctx, id, p.PollID, p.SelectedOption)
		return err

	case "":
		return apperr.Invalid("malformed message")
	default:
		return apperr.Invalid("unknown event " + msg.Event)
	}
}

// sessionFor resolves the session an event targets. An explicit id must match the caller's membership.
func (d *Dispatcher) sessionFor(id models.Identity, explicit *uuid.UUID) (uuid.UUID, error) {
	current, ok := d.sessions.SessionOf(id.UserID)
	if !ok {
		return uuid.Nil, apperr.ErrNotAParticipant
	}
	if explicit != nil && *explicit != uuid.Nil && *explicit != current {
		return uuid.Nil, apperr.ErrNotAParticipant
	}
	return current, nil
}

func (d *Dispatcher) snapshot(ctx context.Context, id models.Identity) (*SyncSnapshot, error) {
	snap := &SyncSnapshot{ServerTime: time.Now().UTC(), Participants: []models.Participant{}, Messages: []models.ChatMessage{}}
	cur, err := d.sessions.Current(id.UserID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return snap, nil
		}
		return nil, err
	}
	s := cur.Session
	p := cur.Participant
	snap.Session = &s
	snap.Participant = &p
	snap.Participants = cur.Participants

	poll, err := d.polls.Current(id.UserID, s.ID)
	switch {
	case err == nil:
		snap.Poll = poll
	case apperr.KindOf(err) != apperr.KindNotFound:
		return nil, err
	}
	if s.Config.AllowChat {
		msgs, err := d.chat.List(ctx, id.UserID, s.ID, nil, 0)
		if err != nil {
			return nil, err
		}
		snap.Messages = msgs
	}
	return snap, nil
}

func (d *Dispatcher) replyError(id models.Identity, conn Conn, event string, err error) {
	ae := apperr.From(err)
	observability.Report(d.logger, "inbound event failed", err,
		zap.String("event", event),
		zap.String("user_id", id.UserID.String()),
		zap.String("code", ae.Code),
	)
	conn.Reply(events.Error, ErrorPayload{
		Code:         ae.Code,
		Error:        ae.Message,
		Details:      ae.Details,
		RequestEvent: event,
	})
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return apperr.Invalid("missing event data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Invalid("invalid event data: " + err.Error())
	}
	return nil
}

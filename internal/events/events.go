// Package events defines the typed outbound events pushed to connected clients and the
// Notification envelope domain components hand to the fan-out path.
package events

import (
	"context"

	"github.com/google/uuid"
)

// Outbound event names.
const (
	ParticipantsUpdate = "participants_update"
	UserKicked         = "user_kicked"
	KickedOut          = "kicked_out"
	SessionEnded       = "session_ended"
	NewPoll            = "new_poll"
	PollStarted        = "poll_started"
	PollUpdate         = "poll_update"
	VoteConfirmed      = "vote_confirmed"
	PollEnded          = "poll_ended"
	NewMessage         = "new_message"
	MessageDeleted     = "message_deleted"
	Sync               = "sync"
	Pong               = "pong"
	Error              = "error"
)

// Inbound event names.
const (
	InSendMessage = "send_message"
	InKickUser    = "kick_user"
	InVote        = "vote"
	InSync        = "sync"
	InPing        = "ping"
)

// Notification is one outbound event addressed to an explicit set of identities.
// Recipients are resolved by the owning component at decision time, under the
// session's exclusion, so delivery never re-reads membership.
type Notification struct {
	Event      string      `json:"event"`
	Payload    interface{} `json:"data"`
	Recipients []uuid.UUID `json:"recipients"`
	Seq        uint64      `json:"seq"` // per-session order, assigned by the session outbox
}

// To builds a notification for the given recipients.
func To(event string, payload interface{}, recipients ...uuid.UUID) Notification {
	return Notification{Event: event, Payload: payload, Recipients: recipients}
}

// Sink receives ordered notification batches for one session.
type Sink interface {
	Deliver(ctx context.Context, sessionID uuid.UUID, notes []Notification)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, sessionID uuid.UUID, notes []Notification)

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, sessionID uuid.UUID, notes []Notification) {
	f(ctx, sessionID, notes)
}

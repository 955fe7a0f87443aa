// Package apperr defines the typed failures returned by the session, poll and chat components.
// The REST boundary and the event dispatcher translate them into caller-visible errors.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for propagation and status mapping.
type Kind string

const (
	KindAuthFailure Kind = "auth_failure"
	KindForbidden   Kind = "forbidden"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindInvalid     Kind = "invalid"
	KindUnexpected  Kind = "unexpected"
)

// Stable error codes sent to clients.
const (
	CodeAuthFailure     = "auth_failure"
	CodeForbidden       = "forbidden"
	CodeSessionNotFound = "session_not_found"
	CodeSessionEnded    = "session_ended"
	CodeRoomFull        = "room_full"
	CodeKickedCooldown  = "kicked_cooldown"
	CodeNotAParticipant = "not_a_participant"
	CodeDuplicateCode   = "duplicate_code"
	CodeInvalidOptions  = "invalid_options"
	CodeInvalidOption   = "invalid_option"
	CodePollAlreadyOpen = "poll_already_open"
	CodePollNotFound    = "poll_not_found"
	CodeNoOpenPoll      = "no_open_poll"
	CodeAlreadyVoted    = "already_voted"
	CodeEmptyContent    = "empty_content"
	CodeContentTooLong  = "content_too_long"
	CodeMessageNotFound = "message_not_found"
	CodeInvalidRequest  = "invalid_request"
	CodeInternal        = "internal"
)

// Error is a typed domain failure.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]interface{}
	Err     error // underlying cause; never shown to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code, so errors.Is(err, apperr.ErrRoomFull) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail returns a copy of e carrying an extra detail field.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Sentinels. Use errors.Is to compare; use WithDetail or New* to attach context.
var (
	ErrAuthFailure     = newErr(KindAuthFailure, CodeAuthFailure, "invalid or expired credential")
	ErrForbidden       = newErr(KindForbidden, CodeForbidden, "forbidden")
	ErrSessionNotFound = newErr(KindNotFound, CodeSessionNotFound, "session not found")
	ErrSessionEnded    = newErr(KindNotFound, CodeSessionEnded, "session has ended")
	ErrRoomFull        = newErr(KindConflict, CodeRoomFull, "session is full")
	ErrKickedCooldown  = newErr(KindConflict, CodeKickedCooldown, "you were removed from this session; rejoin later")
	ErrNotAParticipant = newErr(KindForbidden, CodeNotAParticipant, "not an active participant of this session")
	ErrDuplicateCode   = newErr(KindConflict, CodeDuplicateCode, "could not allocate a unique join code")
	ErrInvalidOptions  = newErr(KindInvalid, CodeInvalidOptions, "a poll needs at least two non-blank options")
	ErrInvalidOption   = newErr(KindInvalid, CodeInvalidOption, "selected option does not exist")
	ErrPollAlreadyOpen = newErr(KindConflict, CodePollAlreadyOpen, "a poll is already open in this session")
	ErrPollNotFound    = newErr(KindNotFound, CodePollNotFound, "poll not found or closed")
	ErrNoOpenPoll      = newErr(KindNotFound, CodeNoOpenPoll, "no open poll")
	ErrAlreadyVoted    = newErr(KindConflict, CodeAlreadyVoted, "you have already voted on this poll")
	ErrEmptyContent    = newErr(KindInvalid, CodeEmptyContent, "message content is empty")
	ErrContentTooLong  = newErr(KindInvalid, CodeContentTooLong, "message content is too long")
	ErrMessageNotFound = newErr(KindNotFound, CodeMessageNotFound, "message not found")
)

// Forbidden returns a Forbidden failure with a specific message.
func Forbidden(msg string) *Error {
	return newErr(KindForbidden, CodeForbidden, msg)
}

// Invalid returns an invalid-request failure.
func Invalid(msg string) *Error {
	return newErr(KindInvalid, CodeInvalidRequest, msg)
}

// Unexpected wraps an internal failure. The cause is kept for logs only.
func Unexpected(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindUnexpected, Code: CodeInternal, Message: "internal error", Err: err}
}

// From converts any error into an *Error, treating unknown errors as Unexpected.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	return Unexpected(err)
}

// KindOf returns the failure kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return From(err).Kind
}

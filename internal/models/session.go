package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// SessionConfig holds the teacher-chosen settings of a session.
type SessionConfig struct {
	AllowChat            bool `json:"allowChat"`
	AllowAnonymousVoting bool `json:"allowAnonymousVoting"`
	ShowLiveResults      bool `json:"showLiveResults"`
	AutoEndPolls         bool `json:"autoEndPolls"`
	MaxParticipants      int  `json:"maxParticipants"`
}

// DefaultSessionConfig mirrors the settings the web client sends when creating a session.
func DefaultSessionConfig(maxParticipants int) SessionConfig {
	return SessionConfig{
		AllowChat:       true,
		ShowLiveResults: true,
		AutoEndPolls:    true,
		MaxParticipants: maxParticipants,
	}
}

// Session is a teacher-owned room identified by a join code.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	Code      string        `json:"code"`
	Name      string        `json:"name"`
	OwnerID   uuid.UUID     `json:"ownerId"`
	Config    SessionConfig `json:"settings"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	EndedAt   *time.Time    `json:"endedAt,omitempty"`
}

// IsActive reports whether the session accepts joins and activity.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}

// SessionStats summarizes a session for the teacher dashboard.
type SessionStats struct {
	SessionID      uuid.UUID `json:"sessionId"`
	ActiveStudents int       `json:"activeStudents"`
	KickedStudents int       `json:"kickedStudents"`
	ConnectedUsers int       `json:"connectedUsers"`
	PollsAsked     int       `json:"pollsAsked"`
}

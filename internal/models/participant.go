package models

import (
	"time"

	"github.com/google/uuid"
)

// MembershipStatus is a participant's standing within a session.
type MembershipStatus string

const (
	MemberActive MembershipStatus = "active"
	MemberKicked MembershipStatus = "kicked"
	MemberLeft   MembershipStatus = "left"
)

// Participant is an identity's membership record within one session.
type Participant struct {
	SessionID uuid.UUID        `json:"sessionId"`
	UserID    uuid.UUID        `json:"id"`
	Name      string           `json:"name"`
	Role      Role             `json:"role"`
	Status    MembershipStatus `json:"status"`
	KickedAt  *time.Time       `json:"kickedAt,omitempty"`
	JoinedAt  time.Time        `json:"joinedAt"`
	LastSeen  time.Time        `json:"lastSeen"`
}

// IsActive reports whether the participant currently belongs to the session.
func (p *Participant) IsActive() bool {
	return p.Status == MemberActive
}

// CanRejoin reports whether a kicked participant's cooldown has elapsed at now.
func (p *Participant) CanRejoin(now time.Time, cooldown time.Duration) bool {
	if p.Status != MemberKicked || p.KickedAt == nil {
		return true
	}
	return now.Sub(*p.KickedAt) >= cooldown
}

// RetryAfter returns how long a kicked participant must still wait at now.
func (p *Participant) RetryAfter(now time.Time, cooldown time.Duration) time.Duration {
	if p.KickedAt == nil {
		return 0
	}
	left := cooldown - now.Sub(*p.KickedAt)
	if left < 0 {
		return 0
	}
	return left
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a participant's role in a classroom session.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleTeacher || r == RoleStudent
}

// Identity is the verified caller behind a credential.
type Identity struct {
	UserID uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Role   Role      `json:"role"`
}

// UserPublic is the identity plus its current membership, as returned by /auth endpoints.
type UserPublic struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	SessionID *uuid.UUID `json:"sessionId,omitempty"`
	IssuedAt  *time.Time `json:"issuedAt,omitempty"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is an immutable message posted to a session's chat.
type ChatMessage struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"sessionId"`
	SenderID    uuid.UUID `json:"senderId"`
	SenderName  string    `json:"senderName"`
	SenderRole  Role      `json:"senderRole"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"timestamp"`
}

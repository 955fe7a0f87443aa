package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/sessions"
)

// Store persists chat messages. GetMessage returns apperr.ErrMessageNotFound for unknown ids.
type Store interface {
	CreateMessage(ctx context.Context, m *models.ChatMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error)
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	ListMessages(ctx context.Context, sessionID uuid.UUID, before *time.Time, limit int) ([]models.ChatMessage, error)
}

// Sessions is the part of the session manager the relay needs.
type Sessions interface {
	Exec(ctx context.Context, sessionID uuid.UUID, fn func(r *sessions.Room) ([]events.Notification, error)) ([]events.Notification, error)
	Authorize(ctx context.Context, userID, sessionID uuid.UUID) error
}

const defaultMessageType = "text"

// Relay owns chat messages of live sessions.
type Relay struct {
	sessions     Sessions
	store        Store
	logger       *zap.Logger
	maxLength    int
	historyLimit int
	now          func() time.Time
}

// NewRelay creates a chat relay. maxLength is in characters.
func NewRelay(s Sessions, store Store, maxLength, historyLimit int, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLength <= 0 {
		maxLength = 1000
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Relay{sessions: s, store: store, logger: logger, maxLength: maxLength, historyLimit: historyLimit, now: time.Now}
}

// Send posts a message and pushes new_message to every ACTIVE participant, sender included.
func (r *Relay) Send(ctx context.Context, sender models.Identity, sessionID uuid.UUID, content, messageType string) (*models.ChatMessage, error) {
	var sent models.ChatMessage
	_, err := r.sessions.Exec(ctx, sessionID, func(room *sessions.Room) ([]events.Notification, error) {
		if !room.Session().Config.AllowChat {
			return nil, apperr.Forbidden("chat is disabled for this session")
		}
		p, ok := room.Participant(sender.UserID)
		if !ok || !p.IsActive() {
			return nil, apperr.ErrNotAParticipant
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return nil, apperr.ErrEmptyContent
		}
		if utf8.RuneCountInString(content) > r.maxLength {
			return nil, apperr.ErrContentTooLong.WithDetail("maxLength", r.maxLength)
		}
		if messageType == "" {
			messageType = defaultMessageType
		}
		m := models.ChatMessage{
			ID:          uuid.New(),
			SessionID:   sessionID,
			SenderID:    p.UserID,
			SenderName:  p.Name,
			SenderRole:  p.Role,
			Content:     content,
			MessageType: messageType,
			CreatedAt:   r.now(),
		}
		if err := r.store.CreateMessage(ctx, &m); err != nil {
			return nil, apperr.Unexpected(err)
		}
		sent = m
		return []events.Notification{events.To(events.NewMessage, m, room.ActiveIDs()...)}, nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("chat message sent", zap.String("session_id", sessionID.String()), zap.String("user_id", sender.UserID.String()))
	return &sent, nil
}

// List returns up to limit messages older than before, oldest first. Ended sessions
// remain readable.
func (r *Relay) List(ctx context.Context, userID, sessionID uuid.UUID, before *time.Time, limit int) ([]models.ChatMessage, error) {
	if err := r.sessions.Authorize(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > r.historyLimit {
		limit = r.historyLimit
	}
	list, err := r.store.ListMessages(ctx, sessionID, before, limit)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return list, nil
}

// Delete removes a message. Only its sender or the session teacher may delete it.
func (r *Relay) Delete(ctx context.Context, actor models.Identity, messageID uuid.UUID) error {
	m, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return apperr.Unexpected(err)
	}
	_, err = r.sessions.Exec(ctx, m.SessionID, func(room *sessions.Room) ([]events.Notification, error) {
		if m.SenderID != actor.UserID && !room.IsTeacher(actor.UserID) {
			return nil, apperr.Forbidden("only the sender or the teacher can delete this message")
		}
		if err := r.store.DeleteMessage(ctx, messageID); err != nil {
			return nil, apperr.Unexpected(err)
		}
		return []events.Notification{events.To(events.MessageDeleted, map[string]interface{}{
			"messageId": messageID,
			"sessionId": m.SessionID,
		}, room.ActiveIDs()...)}, nil
	})
	return err
}

package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/models"
)

// Repository handles chat message persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a chat repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateMessage inserts a message.
func (r *Repository) CreateMessage(ctx context.Context, m *models.ChatMessage) error {
	const q = `INSERT INTO chat_messages (id, session_id, sender_id, sender_name, sender_role, content, message_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, q, m.ID, m.SessionID, m.SenderID, m.SenderName, string(m.SenderRole), m.Content, m.MessageType, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// GetMessage returns a message by ID.
func (r *Repository) GetMessage(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	const q = `SELECT id, session_id, sender_id, sender_name, sender_role, content, message_type, created_at
		FROM chat_messages WHERE id = $1`
	var m models.ChatMessage
	var role string
	err := r.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderName, &role, &m.Content, &m.MessageType, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat message: %w", err)
	}
	m.SenderRole = models.Role(role)
	return &m, nil
}

// DeleteMessage removes a message.
func (r *Repository) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM chat_messages WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("delete chat message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages older than before, oldest first.
func (r *Repository) ListMessages(ctx context.Context, sessionID uuid.UUID, before *time.Time, limit int) ([]models.ChatMessage, error) {
	const q = `SELECT id, session_id, sender_id, sender_name, sender_role, content, message_type, created_at FROM (
			SELECT * FROM chat_messages
			WHERE session_id = $1 AND ($2::timestamptz IS NULL OR created_at < $2)
			ORDER BY created_at DESC LIMIT $3
		) recent ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q, sessionID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()
	var list []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.SenderName, &role, &m.Content, &m.MessageType, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.SenderRole = models.Role(role)
		list = append(list, m)
	}
	return list, rows.Err()
}

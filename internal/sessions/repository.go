package sessions

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

// Repository handles session and participant persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, code, name, owner_id, allow_chat, allow_anonymous_voting, show_live_results,
	auto_end_polls, max_participants, status, created_at, ended_at`

func scanSession(row pgx.Row) (models.Session, error) {
	var s models.Session
	var status string
	err := row.Scan(&s.ID, &s.Code, &s.Name, &s.OwnerID, &s.Config.AllowChat, &s.Config.AllowAnonymousVoting,
		&s.Config.ShowLiveResults, &s.Config.AutoEndPolls, &s.Config.MaxParticipants, &status, &s.CreatedAt, &s.EndedAt)
	s.Status = models.SessionStatus(status)
	return s, err
}

// CreateSession inserts a new session.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO sessions (id, code, name, owner_id, allow_chat, allow_anonymous_voting, show_live_results,
		auto_end_polls, max_participants, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, q, s.ID, s.Code, s.Name, s.OwnerID, s.Config.AllowChat, s.Config.AllowAnonymousVoting,
		s.Config.ShowLiveResults, s.Config.AutoEndPolls, s.Config.MaxParticipants, string(s.Status), s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// CodeInUse reports whether an ACTIVE session already holds code.
func (r *Repository) CodeInUse(ctx context.Context, code string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM sessions WHERE code = $1 AND status = 'active')`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("check code: %w", err)
	}
	return exists, nil
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &s, nil
}

// DeleteSession removes a session and, by cascade, its participants.
func (r *Repository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// EndSession marks a session ended.
func (r *Repository) EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	const q = `UPDATE sessions SET status = 'ended', ended_at = $2 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, id, endedAt); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// ListActiveSessions returns all ACTIVE sessions.
func (r *Repository) ListActiveSessions(ctx context.Context) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE status = 'active' ORDER BY created_at`
	return r.listSessions(ctx, q)
}

// ListSessionsByOwner returns the owner's sessions, newest first.
func (r *Repository) ListSessionsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.listSessions(ctx, q, ownerID, limit)
}

func (r *Repository) listSessions(ctx context.Context, q string, args ...interface{}) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// UpsertParticipant inserts or replaces the (session, user) membership record.
func (r *Repository) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO participants (session_id, user_id, name, role, status, kicked_at, joined_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id, user_id) DO UPDATE SET
			name = EXCLUDED.name, role = EXCLUDED.role, status = EXCLUDED.status,
			kicked_at = EXCLUDED.kicked_at, joined_at = EXCLUDED.joined_at, last_seen = EXCLUDED.last_seen`
	_, err := r.pool.Exec(ctx, q, p.SessionID, p.UserID, p.Name, string(p.Role), string(p.Status), p.KickedAt, p.JoinedAt, p.LastSeen)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// ListParticipants returns every membership record of a session.
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	const q = `SELECT session_id, user_id, name, role, status, kicked_at, joined_at, last_seen
		FROM participants WHERE session_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()
	var list []models.Participant
	for rows.Next() {
		var p models.Participant
		var role, status string
		if err := rows.Scan(&p.SessionID, &p.UserID, &p.Name, &role, &status, &p.KickedAt, &p.JoinedAt, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		p.Role = models.Role(role)
		p.Status = models.MembershipStatus(status)
		list = append(list, p)
	}
	return list, rows.Err()
}

// TouchParticipant updates last-seen.
func (r *Repository) TouchParticipant(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error {
	const q = `UPDATE participants SET last_seen = $3 WHERE session_id = $1 AND user_id = $2`
	if _, err := r.pool.Exec(ctx, q, sessionID, userID, at); err != nil {
		return fmt.Errorf("touch participant: %w", err)
	}
	return nil
}

package polls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-livepoll/backend/internal/models"
)

// Repository handles poll and vote persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a polls repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const pollColumns = `id, session_id, question, options, duration, status, results, created_at, closed_at`

func scanPoll(row pgx.Row) (models.Poll, error) {
	var p models.Poll
	var options, results []byte
	var status string
	if err := row.Scan(&p.ID, &p.SessionID, &p.Question, &options, &p.Duration, &status, &results, &p.CreatedAt, &p.ClosedAt); err != nil {
		return p, err
	}
	p.Status = models.PollStatus(status)
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return p, fmt.Errorf("decode options: %w", err)
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &p.Results); err != nil {
			return p, fmt.Errorf("decode results: %w", err)
		}
	}
	return p, nil
}

// CreatePoll inserts a new OPEN poll.
func (r *Repository) CreatePoll(ctx context.Context, p *models.Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	const q = `INSERT INTO polls (id, session_id, question, options, duration, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.pool.Exec(ctx, q, p.ID, p.SessionID, p.Question, options, p.Duration, string(p.Status), p.CreatedAt); err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	return nil
}

// RecordVote records a user's choice. One per user per poll; a repeat replaces the prior row.
func (r *Repository) RecordVote(ctx context.Context, v *models.Vote) error {
	const q = `INSERT INTO votes (poll_id, user_id, option_index, voted_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (poll_id, user_id) DO UPDATE SET option_index = EXCLUDED.option_index, voted_at = EXCLUDED.voted_at`
	if _, err := r.pool.Exec(ctx, q, v.PollID, v.UserID, v.OptionIndex, v.VotedAt); err != nil {
		return fmt.Errorf("record vote: %w", err)
	}
	return nil
}

// ClosePoll marks a poll closed and stores its final aggregation.
func (r *Repository) ClosePoll(ctx context.Context, pollID uuid.UUID, closedAt time.Time, results []models.OptionResult) error {
	body, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	const q = `UPDATE polls SET status = 'closed', closed_at = $2, results = $3 WHERE id = $1`
	if _, err := r.pool.Exec(ctx, q, pollID, closedAt, body); err != nil {
		return fmt.Errorf("close poll: %w", err)
	}
	return nil
}

// ListOpenPolls returns every OPEN poll.
func (r *Repository) ListOpenPolls(ctx context.Context) ([]models.Poll, error) {
	q := `SELECT ` + pollColumns + ` FROM polls WHERE status = 'open' ORDER BY created_at`
	return r.list(ctx, q)
}

// ListClosedBySession returns a session's closed polls, newest first.
func (r *Repository) ListClosedBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Poll, error) {
	q := `SELECT ` + pollColumns + ` FROM polls WHERE session_id = $1 AND status = 'closed' ORDER BY created_at DESC LIMIT $2`
	return r.list(ctx, q, sessionID, limit)
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]models.Poll, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	defer rows.Close()
	var list []models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, fmt.Errorf("scan poll: %w", err)
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// ListVotes returns all votes of a poll.
func (r *Repository) ListVotes(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	const q = `SELECT poll_id, user_id, option_index, voted_at FROM votes WHERE poll_id = $1 ORDER BY voted_at`
	rows, err := r.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()
	var list []models.Vote
	for rows.Next() {
		var v models.Vote
		if err := rows.Scan(&v.PollID, &v.UserID, &v.OptionIndex, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

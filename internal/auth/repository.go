package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-livepoll/backend/internal/models"
)

// Store records issued identities.
type Store interface {
	CreateUser(ctx context.Context, id models.Identity, createdAt time.Time) error
	GetUser(ctx context.Context, userID uuid.UUID) (*models.Identity, error)
}

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateUser inserts an issued identity.
func (r *Repository) CreateUser(ctx context.Context, id models.Identity, createdAt time.Time) error {
	const q = `INSERT INTO users (id, name, role, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := r.pool.Exec(ctx, q, id.UserID, id.Name, string(id.Role), createdAt); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser returns an identity by ID.
func (r *Repository) GetUser(ctx context.Context, userID uuid.UUID) (*models.Identity, error) {
	const q = `SELECT id, name, role FROM users WHERE id = $1`
	var id models.Identity
	var role string
	if err := r.pool.QueryRow(ctx, q, userID).Scan(&id.UserID, &id.Name, &role); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	id.Role = models.Role(role)
	return &id, nil
}

//go:build integration

// Package testdb starts a throwaway PostgreSQL container with the schema applied.
package testdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/aura-livepoll/backend/pkg/database"
)

// Handle owns the container and the pool connected to it.
type Handle struct {
	Pool *pgxpool.Pool
	stop func(context.Context) error
}

// Close releases the pool and terminates the container.
func (h *Handle) Close() {
	if h.Pool != nil {
		h.Pool.Close()
	}
	if h.stop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.stop(ctx)
	}
}

// Start runs postgres, waits until it accepts connections and applies the migrations.
func Start(ctx context.Context) (*Handle, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	pg, err := postgres.RunContainer(ctx,
		tc.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("livepoll"),
		postgres.WithUsername("livepoll"),
		postgres.WithPassword("livepoll"),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}
	uri, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, fmt.Errorf("connection string: %w", err)
	}

	pool, err := waitReady(ctx, uri)
	if err != nil {
		_ = pg.Terminate(ctx)
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		_ = pg.Terminate(ctx)
		return nil, err
	}
	return &Handle{Pool: pool, stop: pg.Terminate}, nil
}

// waitReady retries until the server answers a ping; the container reports started
// before postgres finishes its init restart.
func waitReady(ctx context.Context, uri string) (*pgxpool.Pool, error) {
	var lastErr error
	for {
		pool, err := pgxpool.New(ctx, uri)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("postgres not ready: %w", lastErr)
		case <-time.After(300 * time.Millisecond):
		}
	}
}

// Reset empties every table between tests.
func (h *Handle) Reset(ctx context.Context) error {
	_, err := h.Pool.Exec(ctx, `TRUNCATE chat_messages, votes, polls, participants, sessions, users`)
	return err
}

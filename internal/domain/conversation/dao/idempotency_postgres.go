package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyPostgres is a durable seen-set of provider event ids.
// Webhook delivery is at-least-once; an event id is accepted exactly
// once within the eviction horizon.
type IdempotencyPostgres struct {
	pool *pgxpool.Pool
}

// NewIdempotencyPostgres creates a new PostgreSQL idempotency filter
func NewIdempotencyPostgres(pool *pgxpool.Pool) *IdempotencyPostgres {
	return &IdempotencyPostgres{pool: pool}
}

// InsertIfAbsent atomically records an event id. Returns true iff this
// call was the first to record it: concurrent calls for the same id get
// at most one true outcome because the insert races on the primary key.
func (r *IdempotencyPostgres) InsertIfAbsent(ctx context.Context, eventID string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, seen_at) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING`,
		eventID, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("recording event id: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Remove releases a recorded event id so a later redelivery of the same
// event can be accepted. Used when an accepted event cannot be enqueued.
func (r *IdempotencyPostgres) Remove(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE event_id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("releasing event id: %w", err)
	}
	return nil
}

// PurgeOlderThan evicts entries outside the redelivery horizon
func (r *IdempotencyPostgres) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM processed_events WHERE seen_at < $1`,
		time.Now().Add(-horizon),
	)
	if err != nil {
		return 0, fmt.Errorf("purging processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

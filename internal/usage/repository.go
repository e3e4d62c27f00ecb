package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists per-user usage counters.
type Repository interface {
	// GetOrCreate returns the user's counter row, creating it with the given reset instant.
	GetOrCreate(ctx context.Context, userID uuid.UUID, resetAt time.Time) (*Counter, error)
	// ResetIfBefore zeroes the daily counters when last_reset_at is before dayStart.
	ResetIfBefore(ctx context.Context, userID uuid.UUID, dayStart time.Time) (bool, error)
	// Increment records one successful generation on the day starting at
	// resetAt, rolling the daily counters over first when the row is older.
	Increment(ctx context.Context, userID uuid.UUID, tokens int, resetAt time.Time) error
	// ResetAllBefore zeroes every counter whose last_reset_at is before dayStart.
	ResetAllBefore(ctx context.Context, dayStart time.Time) (int64, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a usage_counters repository backed by PostgreSQL.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) GetOrCreate(ctx context.Context, userID uuid.UUID, resetAt time.Time) (*Counter, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_counters (user_id, last_reset_at) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`, userID, resetAt)
	if err != nil {
		return nil, fmt.Errorf("ensuring usage counter: %w", err)
	}

	var c Counter
	err = r.pool.QueryRow(ctx,
		`SELECT user_id, messages_used_today, api_calls_today, tokens_used_total,
		        last_reset_at, updated_at
		 FROM usage_counters WHERE user_id = $1`, userID,
	).Scan(&c.UserID, &c.MessagesUsedToday, &c.APICallsToday, &c.TokensUsedTotal,
		&c.LastResetAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("fetching usage counter: %w", err)
	}
	c.LastResetAt = c.LastResetAt.UTC()
	return &c, nil
}

func (r *postgresRepository) ResetIfBefore(ctx context.Context, userID uuid.UUID, dayStart time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE usage_counters
		 SET messages_used_today = 0,
		     api_calls_today = 0,
		     last_reset_at = $2,
		     updated_at = NOW()
		 WHERE user_id = $1 AND last_reset_at < $2`, userID, dayStart)
	if err != nil {
		return false, fmt.Errorf("resetting daily usage: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) Increment(ctx context.Context, userID uuid.UUID, tokens int, resetAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO usage_counters (user_id, messages_used_today, api_calls_today, tokens_used_total, last_reset_at)
		 VALUES ($1, 1, 1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET messages_used_today = CASE WHEN usage_counters.last_reset_at < EXCLUDED.last_reset_at
		                                THEN 1 ELSE usage_counters.messages_used_today + 1 END,
		     api_calls_today = CASE WHEN usage_counters.last_reset_at < EXCLUDED.last_reset_at
		                            THEN 1 ELSE usage_counters.api_calls_today + 1 END,
		     tokens_used_total = usage_counters.tokens_used_total + EXCLUDED.tokens_used_total,
		     last_reset_at = GREATEST(usage_counters.last_reset_at, EXCLUDED.last_reset_at),
		     updated_at = NOW()`, userID, tokens, resetAt)
	if err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}
	return nil
}

func (r *postgresRepository) ResetAllBefore(ctx context.Context, dayStart time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE usage_counters
		 SET messages_used_today = 0,
		     api_calls_today = 0,
		     last_reset_at = $1,
		     updated_at = NOW()
		 WHERE last_reset_at < $1`, dayStart)
	if err != nil {
		return 0, fmt.Errorf("resetting all daily usage: %w", err)
	}
	return tag.RowsAffected(), nil
}

package usage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	burstKeyPrefix = "usage:burst:"
	burstWindow    = time.Minute
)

// BurstLimiter caps completed generations per user inside a sliding
// one-minute window. The gate reads the window before a generation and
// records a slot only once a reply was committed, so failed or canceled
// generations never consume allowance.
type BurstLimiter struct {
	rdb       redis.Cmdable
	perMinute int
	now       func() time.Time
}

// NewBurstLimiter creates a limiter allowing perMinute generations per user.
func NewBurstLimiter(rdb redis.Cmdable, perMinute int) *BurstLimiter {
	return &BurstLimiter{rdb: rdb, perMinute: perMinute, now: time.Now}
}

// PerMinute returns the configured allowance.
func (b *BurstLimiter) PerMinute() int {
	return b.perMinute
}

// Recent returns how many generations the user completed in the last minute.
// Expired slots are pruned in the same transaction.
func (b *BurstLimiter) Recent(ctx context.Context, userID uuid.UUID) (int, error) {
	key := burstKey(userID)
	cutoff := b.now().Add(-burstWindow).UnixMilli()

	var card *redis.IntCmd
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		card = pipe.ZCard(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reading burst window: %w", err)
	}
	return int(card.Val()), nil
}

// Remaining returns the generations still available in the current window.
func (b *BurstLimiter) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := b.Recent(ctx, userID)
	if err != nil {
		return 0, err
	}
	return max(b.perMinute-n, 0), nil
}

// Record adds one completed generation to the user's window.
func (b *BurstLimiter) Record(ctx context.Context, userID uuid.UUID) error {
	key := burstKey(userID)
	now := b.now()

	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.PExpire(ctx, key, burstWindow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording burst slot: %w", err)
	}
	return nil
}

func burstKey(userID uuid.UUID) string {
	return burstKeyPrefix + userID.String()
}

package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/metrics"
)

// PlanResolver reports whether a user's plan bypasses the daily limit.
type PlanResolver interface {
	IsUnlimited(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Gate decides whether a user may consume one generation today and records
// consumption afterwards. Check and Commit are separate calls: two concurrent
// requests of the same user may both pass Check before either commits, so the
// daily limit can be overrun by the number of in-flight requests. Commit is a
// single atomic row update, so no increments are lost.
type Gate struct {
	repo  Repository
	plans PlanResolver
	burst *BurstLimiter
	limit int
	now   func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithBurstLimiter enables the per-minute burst guard.
func WithBurstLimiter(b *BurstLimiter) Option {
	return func(g *Gate) { g.burst = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a quota gate enforcing cfg.FreeDailyMessages for limited plans.
func NewGate(repo Repository, plans PlanResolver, cfg config.QuotaConfig, opts ...Option) *Gate {
	g := &Gate{
		repo:  repo,
		plans: plans,
		limit: cfg.FreeDailyMessages,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limit returns the daily message allowance of limited plans.
func (g *Gate) Limit() int {
	return g.limit
}

// Check applies the lazy daily reset and evaluates the user's allowance.
// Storage errors fail the check; the burst guard fails open.
func (g *Gate) Check(ctx context.Context, userID uuid.UUID) (*Decision, error) {
	counter, err := g.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	unlimited, err := g.plans.IsUnlimited(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving plan: %w", err)
	}

	d := &Decision{Allowed: true, Used: counter.MessagesUsedToday, Unlimited: unlimited}
	if unlimited {
		return d, nil
	}

	d.Limit = g.limit
	if counter.MessagesUsedToday >= g.limit {
		d.Allowed = false
		d.Window = WindowDay
		d.Reason = fmt.Sprintf("Daily message limit reached (%d messages/day for free tier)", g.limit)
		metrics.QuotaDenialsTotal.WithLabelValues("daily").Inc()
		return d, nil
	}

	if g.burst != nil {
		recent, err := g.burst.Recent(ctx, userID)
		if err != nil {
			slog.Warn("usage: burst window unreadable, allowing request", "error", err, "user_id", userID)
		} else if recent >= g.burst.PerMinute() {
			// The refusal reports the per-minute figures, not the daily ones.
			metrics.QuotaDenialsTotal.WithLabelValues("burst").Inc()
			return &Decision{
				Window: WindowMinute,
				Reason: fmt.Sprintf("Too many messages, at most %d per minute", g.burst.PerMinute()),
				Limit:  g.burst.PerMinute(),
				Used:   recent,
			}, nil
		}
	}

	return d, nil
}

// Commit records one successful generation and takes a burst slot.
// Unlimited users are counted too.
func (g *Gate) Commit(ctx context.Context, userID uuid.UUID, tokensUsed int) error {
	if tokensUsed < 0 {
		tokensUsed = 0
	}
	if err := g.repo.Increment(ctx, userID, tokensUsed, DayStart(g.now())); err != nil {
		return fmt.Errorf("committing usage: %w", err)
	}
	if g.burst != nil {
		if err := g.burst.Record(ctx, userID); err != nil {
			slog.Warn("usage: failed to record burst slot", "error", err, "user_id", userID)
		}
	}
	return nil
}

// Status returns the user's counters after the lazy reset.
func (g *Gate) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	counter, err := g.current(ctx, userID)
	if err != nil {
		return nil, err
	}

	unlimited, err := g.plans.IsUnlimited(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving plan: %w", err)
	}

	st := &Status{
		MessagesToday:   counter.MessagesUsedToday,
		APICallsToday:   counter.APICallsToday,
		TokensUsedTotal: counter.TokensUsedTotal,
		ResetsAt:        DayStart(g.now()).Add(24 * time.Hour),
	}
	if !unlimited {
		limit := g.limit
		remaining := max(limit-counter.MessagesUsedToday, 0)
		st.Limit = &limit
		st.Remaining = &remaining

		if g.burst != nil {
			if left, err := g.burst.Remaining(ctx, userID); err != nil {
				slog.Warn("usage: burst window unreadable", "error", err, "user_id", userID)
			} else {
				st.BurstRemaining = &left
			}
		}
	}
	return st, nil
}

// ResetAll zeroes the daily counters of every user not yet reset today.
// It is safe to run any number of times per day.
func (g *Gate) ResetAll(ctx context.Context) (int64, error) {
	n, err := g.repo.ResetAllBefore(ctx, DayStart(g.now()))
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (g *Gate) current(ctx context.Context, userID uuid.UUID) (*Counter, error) {
	today := DayStart(g.now())

	counter, err := g.repo.GetOrCreate(ctx, userID, today)
	if err != nil {
		return nil, fmt.Errorf("loading usage: %w", err)
	}

	if counter.LastResetAt.Before(today) {
		if _, err := g.repo.ResetIfBefore(ctx, userID, today); err != nil {
			return nil, fmt.Errorf("resetting usage: %w", err)
		}
		counter.MessagesUsedToday = 0
		counter.APICallsToday = 0
		counter.LastResetAt = today
	}
	return counter, nil
}

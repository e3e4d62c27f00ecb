package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// KeyFunc names the bucket a request is counted against.
type KeyFunc func(r *http.Request) string

// RateLimiter is a Redis sorted-set sliding window in front of the AI
// endpoints. Refused requests are not counted, so a client that keeps
// retrying is let through again as soon as its oldest request leaves the window.
type RateLimiter struct {
	client  redis.Cmdable
	prefix  string
	maxReqs int
	window  time.Duration
	key     KeyFunc
	now     func() time.Time
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithKeyFunc replaces the default per-client-IP bucket.
func WithKeyFunc(fn KeyFunc) RateLimitOption {
	return func(rl *RateLimiter) { rl.key = fn }
}

// NewRateLimiter allows maxReqs per windowSec seconds for each bucket.
// Keys are namespaced by prefix so several limiters can share one Redis.
func NewRateLimiter(client redis.Cmdable, prefix string, maxReqs, windowSec int, opts ...RateLimitOption) *RateLimiter {
	rl := &RateLimiter{
		client:  client,
		prefix:  prefix,
		maxReqs: maxReqs,
		window:  time.Duration(windowSec) * time.Second,
		key:     func(r *http.Request) string { return "ip:" + ClientIP(r) },
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware enforces the limit. Redis errors fail open.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket := rl.key(r)

		retryAfter, err := rl.take(r.Context(), rl.prefix+bucket)
		if err != nil {
			slog.Warn("rate limiter: redis error, failing open", "error", err, "bucket", bucket)
			next.ServeHTTP(w, r)
			return
		}

		if retryAfter > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}` + "\n"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take claims a slot in key's window. It returns zero when the request may
// proceed, or how long until the oldest slot expires.
func (rl *RateLimiter) take(ctx context.Context, key string) (time.Duration, error) {
	now := rl.now()
	cutoff := now.Add(-rl.window).UnixMilli()

	var oldest *redis.ZSliceCmd
	var count *redis.IntCmd
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		count = pipe.ZCard(ctx, key)
		oldest = pipe.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count.Val() >= int64(rl.maxReqs) {
		wait := rl.window
		if zs := oldest.Val(); len(zs) > 0 {
			wait = time.UnixMilli(int64(zs[0].Score)).Add(rl.window).Sub(now)
		}
		return max(wait, time.Second), nil
	}

	_, err = rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		pipe.PExpire(ctx, key, rl.window)
		return nil
	})
	return 0, err
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address. Only meaningful behind a trusted proxy.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

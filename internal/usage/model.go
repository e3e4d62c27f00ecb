package usage

import (
	"time"

	"github.com/google/uuid"
)

// Counter matches the usage_counters table schema.
type Counter struct {
	UserID            uuid.UUID `json:"user_id"`
	MessagesUsedToday int       `json:"messages_used_today"`
	APICallsToday     int       `json:"api_calls_today"`
	TokensUsedTotal   int64     `json:"tokens_used_total"`
	LastResetAt       time.Time `json:"last_reset_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Windows a refusal can apply to.
const (
	WindowDay    = "day"
	WindowMinute = "minute"
)

// Decision is the outcome of a quota check. It is never persisted.
// On a refusal, Limit and Used describe the window named by Window.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Window    string `json:"window,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Used      int    `json:"used"`
	Unlimited bool   `json:"unlimited"`
}

// Status is the API response showing current usage and limits.
type Status struct {
	MessagesToday   int       `json:"messages_today"`
	APICallsToday   int       `json:"api_calls_today"`
	TokensUsedTotal int64     `json:"tokens_used_total"`
	Limit           *int      `json:"limit"`
	Remaining       *int      `json:"remaining"`
	// BurstRemaining is set when the per-minute guard applies to the user.
	BurstRemaining  *int      `json:"burst_remaining,omitempty"`
	ResetsAt        time.Time `json:"resets_at"`
}

// DayStart returns midnight UTC of the calendar day containing t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package nats

import (
	"time"

	"github.com/google/uuid"
)

// StreamEvents holds every generation-side event.
const StreamEvents = "PERSONA_EVENTS"

// Subject constants.
const (
	SubjectEventsAll           = "persona.events.>"
	SubjectGenerationCompleted = "persona.events.generation.completed"
	SubjectGenerationFailed    = "persona.events.generation.failed"
	SubjectQuotaDenied         = "persona.events.quota.denied"
	SubjectUsageReset          = "persona.events.usage.reset"
)

// GenerationEvent is published after each generation attempt that reached a provider.
type GenerationEvent struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	PersonaID    uuid.UUID `json:"persona_id"`
	Mode         string    `json:"mode"` // buffered or stream
	ProviderUsed string    `json:"provider_used,omitempty"`
	TokensUsed   int       `json:"tokens_used"`
	Sentiment    string    `json:"sentiment,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// QuotaDeniedEvent is published when the quota gate refuses a generation.
type QuotaDeniedEvent struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	PersonaID uuid.UUID `json:"persona_id"`
	Reason    string    `json:"reason"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Timestamp time.Time `json:"timestamp"`
}

// UsageResetEvent is published after the scheduled daily reset.
type UsageResetEvent struct {
	RowsReset int64     `json:"rows_reset"`
	DayStart  time.Time `json:"day_start"`
	Timestamp time.Time `json:"timestamp"`
}

package generation

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/aiox-platform/personachat/internal/prompt"
	"github.com/aiox-platform/personachat/internal/sentiment"
)

// Request is one generation call. UserID comes from the access token, never the body.
type Request struct {
	UserID      uuid.UUID     `json:"-"`
	PersonaID   uuid.UUID     `json:"persona_id" validate:"required"`
	UserMessage string        `json:"user_message" validate:"required,max=8000"`
	History     []prompt.Turn `json:"history" validate:"max=200"`
	Temperature *float64      `json:"temperature" validate:"omitempty,gte=0,lte=1"`
	MaxTokens   *int          `json:"max_tokens" validate:"omitempty,gt=0,lte=8192"`
}

// Usage is the caller's daily counter right after this generation.
type Usage struct {
	MessagesToday int  `json:"messages_today"`
	Limit         *int `json:"limit"`
}

// Result is a finished generation. The caller persists Text as a message.
type Result struct {
	Text         string              `json:"text"`
	TokensUsed   int                 `json:"tokens_used"`
	Sentiment    sentiment.Sentiment `json:"sentiment"`
	ProviderUsed string              `json:"provider_used"`
	Usage        Usage               `json:"usage"`
}

// Event is one item of a generation stream: a text chunk, the final
// summary, or a terminal error. Exactly one of the three shapes is encoded.
type Event struct {
	Chunk        string
	Done         bool
	TokensUsed   int
	Sentiment    sentiment.Sentiment
	ProviderUsed string
	Error        string
}

type chunkEvent struct {
	Chunk string `json:"chunk"`
}

type doneEvent struct {
	Done         bool                `json:"done"`
	TokensUsed   int                 `json:"tokens_used"`
	Sentiment    sentiment.Sentiment `json:"sentiment"`
	ProviderUsed string              `json:"provider_used"`
}

type errorEvent struct {
	Error string `json:"error"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch {
	case e.Error != "":
		return json.Marshal(errorEvent{Error: e.Error})
	case e.Done:
		return json.Marshal(doneEvent{
			Done:         true,
			TokensUsed:   e.TokensUsed,
			Sentiment:    e.Sentiment,
			ProviderUsed: e.ProviderUsed,
		})
	default:
		return json.Marshal(chunkEvent{Chunk: e.Chunk})
	}
}

// Terminal reports whether no event follows this one.
func (e Event) Terminal() bool {
	return e.Done || e.Error != ""
}

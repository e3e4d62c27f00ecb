// Package llm defines the uniform provider contract used for persona replies
// and the orchestration that falls back from the primary to the secondary provider.
package llm

import "context"

// Conversation roles understood by every provider adapter.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request carries the provider-independent generation inputs.
type Request struct {
	System      string
	History     []Message
	UserText    string
	Temperature float64
	// MaxTokens caps the reply length. Zero leaves it to the provider.
	MaxTokens int
}

// Completion is a buffered provider reply.
type Completion struct {
	Text   string
	Tokens int
}

// DeltaStream is a single-pass, finite sequence of text fragments.
// Next advances to the following delta and returns false at the end of the
// stream or on failure; Err distinguishes the two.
type DeltaStream interface {
	Next() bool
	Delta() string
	Err() error
	// Tokens returns the provider-reported usage once the stream is exhausted, or zero.
	Tokens() int
	Close() error
}

// Provider translates a Request into one upstream API's wire format.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Completion, error)
	Stream(ctx context.Context, req *Request) (DeltaStream, error)
}

// EstimateTokens approximates usage as one token per four bytes of text.
// It is used only when a provider reports no usage.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// TokensOrEstimate prefers the reported count when it is positive.
func TokensOrEstimate(reported int, text string) int {
	if reported > 0 {
		return reported
	}
	return EstimateTokens(text)
}

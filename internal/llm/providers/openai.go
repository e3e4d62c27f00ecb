package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/llm"
)

const (
	openAIRoleSystem = "system"
	openAIDone       = "[DONE]"
)

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message llm.Message `json:"message"`
		Delta   struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (r *openAIResponse) tokens() int {
	if r.Usage == nil {
		return 0
	}
	return r.Usage.TotalTokens
}

// OpenAI speaks the chat completions API: one flat list of role-tagged
// messages with the system prompt as its first entry.
type OpenAI struct {
	base
	authHeader string
}

// NewOpenAI creates the adapter. With no auth header configured the key is
// sent as a bearer token; otherwise it is sent verbatim under that header.
func NewOpenAI(cfg config.ProviderConfig, timeout time.Duration, opts ...Option) *OpenAI {
	return &OpenAI{
		base:       newBase(cfg.Name, strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, cfg.Model, timeout, opts),
		authHeader: cfg.AuthHeader,
	}
}

func (o *OpenAI) Complete(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	var resp openAIResponse
	if err := o.postJSON(ctx, o.baseURL+"/chat/completions", o.buildRequest(req, false), o.headers(), &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, llm.NewEmptyError(o.name, nil)
	}
	text := resp.Choices[0].Message.Content
	return &llm.Completion{Text: text, Tokens: llm.TokensOrEstimate(resp.tokens(), text)}, nil
}

func (o *OpenAI) Stream(ctx context.Context, req *llm.Request) (llm.DeltaStream, error) {
	headers := o.headers()
	headers["Accept"] = "text/event-stream"

	resp, callCtx, cancel, err := o.postStream(ctx, o.baseURL+"/chat/completions", o.buildRequest(req, true), headers)
	if err != nil {
		return nil, err
	}

	return llm.NewSSEStream(llm.SSEStreamConfig{
		Provider:    o.name,
		Body:        resp.Body,
		Parent:      ctx,
		Ctx:         callCtx,
		Cancel:      cancel,
		Decode:      o.decodeChunk,
		RequireDone: true,
	}), nil
}

func (o *OpenAI) decodeChunk(data string) (llm.Chunk, error) {
	if data == openAIDone {
		return llm.Chunk{Done: true}, nil
	}

	var resp openAIResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return llm.Chunk{}, err
	}
	if resp.Error != nil {
		return llm.Chunk{}, llm.NewStatusError(o.name, http.StatusBadGateway, []byte(data))
	}

	chunk := llm.Chunk{Tokens: resp.tokens()}
	if len(resp.Choices) > 0 {
		chunk.Text = resp.Choices[0].Delta.Content
	}
	return chunk, nil
}

func (o *OpenAI) headers() map[string]string {
	if o.authHeader != "" {
		return map[string]string{o.authHeader: o.apiKey}
	}
	return map[string]string{"Authorization": "Bearer " + o.apiKey}
}

func (o *OpenAI) buildRequest(req *llm.Request, stream bool) openAIRequest {
	messages := make([]llm.Message, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, llm.Message{Role: openAIRoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		role := llm.RoleAssistant
		if m.Role == llm.RoleUser {
			role = llm.RoleUser
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.UserText})

	return openAIRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

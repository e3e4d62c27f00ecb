package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/llm"
)

const geminiModelRole = "model"

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func (r *geminiResponse) tokens() int {
	if r.UsageMetadata == nil {
		return 0
	}
	return r.UsageMetadata.TotalTokenCount
}

// Gemini speaks the generateContent API: a contents list with user/model roles
// and a separate system instruction.
type Gemini struct {
	base
	authHeader string
}

// NewGemini creates the adapter from its provider settings.
func NewGemini(cfg config.ProviderConfig, timeout time.Duration, opts ...Option) *Gemini {
	header := cfg.AuthHeader
	if header == "" {
		header = "x-goog-api-key"
	}
	return &Gemini{
		base:       newBase(cfg.Name, strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, cfg.Model, timeout, opts),
		authHeader: header,
	}
}

func (g *Gemini) Complete(ctx context.Context, req *llm.Request) (*llm.Completion, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)

	var resp geminiResponse
	if err := g.postJSON(ctx, url, g.buildRequest(req), g.headers(), &resp); err != nil {
		return nil, err
	}

	text := resp.text()
	if text == "" {
		return nil, llm.NewEmptyError(g.name, nil)
	}
	return &llm.Completion{Text: text, Tokens: llm.TokensOrEstimate(resp.tokens(), text)}, nil
}

func (g *Gemini) Stream(ctx context.Context, req *llm.Request) (llm.DeltaStream, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", g.baseURL, g.model)

	headers := g.headers()
	headers["Accept"] = "text/event-stream"

	resp, callCtx, cancel, err := g.postStream(ctx, url, g.buildRequest(req), headers)
	if err != nil {
		return nil, err
	}

	return llm.NewSSEStream(llm.SSEStreamConfig{
		Provider: g.name,
		Body:     resp.Body,
		Parent:   ctx,
		Ctx:      callCtx,
		Cancel:   cancel,
		Decode:   g.decodeChunk,
	}), nil
}

func (g *Gemini) decodeChunk(data string) (llm.Chunk, error) {
	var resp geminiResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return llm.Chunk{}, err
	}
	if resp.Error != nil {
		code := resp.Error.Code
		if code == 0 {
			code = http.StatusBadGateway
		}
		return llm.Chunk{}, llm.NewStatusError(g.name, code, []byte(data))
	}
	return llm.Chunk{Text: resp.text(), Tokens: resp.tokens()}, nil
}

func (g *Gemini) headers() map[string]string {
	return map[string]string{g.authHeader: g.apiKey}
}

func (g *Gemini) buildRequest(req *llm.Request) geminiRequest {
	contents := make([]geminiContent, 0, len(req.History)+1)
	for _, m := range req.History {
		role := llm.RoleUser
		if m.Role != llm.RoleUser {
			role = geminiModelRole
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	contents = append(contents, geminiContent{Role: llm.RoleUser, Parts: []geminiPart{{Text: req.UserText}}})

	gr := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		gr.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	return gr
}

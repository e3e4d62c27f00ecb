// Package providers holds the wire adapters for the upstream text-generation APIs.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aiox-platform/personachat/internal/llm"
)

// maxResponseSize bounds buffered response bodies.
const maxResponseSize = 10 * 1024 * 1024

// Option configures an adapter.
type Option func(*base)

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) { b.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

// base carries what every adapter shares: identity, credentials and the
// per-call timeout. A buffered exchange must finish within timeout; a stream
// must deliver its headers, and then each further read, within timeout.
type base struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

func (b *base) Name() string {
	return b.name
}

// post sends a JSON body and returns the response for a 2xx status.
// On success the caller owns resp.Body and must call cancel once done with it.
func (b *base) post(parent context.Context, url string, payload any, headers map[string]string) (*http.Response, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	resp, err := b.send(parent, ctx, url, payload, headers)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return resp, ctx, cancel, nil
}

// postStream is post for streamed replies. The timeout restarts on every
// body read, so a long stream that keeps producing is never cut short.
func (b *base) postStream(parent context.Context, url string, payload any, headers map[string]string) (*http.Response, context.Context, context.CancelFunc, error) {
	ctx, cancelCause := context.WithCancelCause(parent)
	idle := time.AfterFunc(b.timeout, func() { cancelCause(context.DeadlineExceeded) })
	cancel := func() {
		idle.Stop()
		cancelCause(context.Canceled)
	}

	resp, err := b.send(parent, ctx, url, payload, headers)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	resp.Body = &idleBody{ReadCloser: resp.Body, timer: idle, timeout: b.timeout}
	return resp, ctx, cancel, nil
}

func (b *base) send(parent, ctx context.Context, url string, payload any, headers map[string]string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling request: %w", b.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", b.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, llm.ClassifyTransport(b.name, parent, ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
		b.logger.Debug("provider returned error status",
			"provider", b.name, "status", resp.StatusCode)
		return nil, llm.NewStatusError(b.name, resp.StatusCode, errBody)
	}

	return resp, nil
}

// idleBody pushes the stream's idle deadline back whenever bytes arrive.
type idleBody struct {
	io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleBody) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

// postJSON performs a buffered exchange and decodes the response into out.
func (b *base) postJSON(parent context.Context, url string, payload any, headers map[string]string, out any) error {
	resp, ctx, cancel, err := b.post(parent, url, payload, headers)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return llm.ClassifyTransport(b.name, parent, ctx, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return llm.NewEmptyError(b.name, nil)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return llm.NewEmptyError(b.name, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func newBase(name, baseURL, apiKey, model string, timeout time.Duration, opts []Option) base {
	b := base{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

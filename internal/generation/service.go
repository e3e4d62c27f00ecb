// Package generation composes quota, prompt assembly, provider fallback and
// sentiment tagging into buffered and streamed persona replies.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aiox-platform/personachat/internal/config"
	"github.com/aiox-platform/personachat/internal/llm"
	"github.com/aiox-platform/personachat/internal/metrics"
	inats "github.com/aiox-platform/personachat/internal/nats"
	"github.com/aiox-platform/personachat/internal/prompt"
	"github.com/aiox-platform/personachat/internal/sentiment"
	"github.com/aiox-platform/personachat/internal/usage"
)

const (
	modeBuffered = "buffered"
	modeStream   = "stream"

	// streamBuffer lets the producer run slightly ahead of a slow reader.
	streamBuffer = 16

	publishTimeout = 2 * time.Second
)

// QuotaGate checks and records per-user consumption.
type QuotaGate interface {
	Check(ctx context.Context, userID uuid.UUID) (*usage.Decision, error)
	Commit(ctx context.Context, userID uuid.UUID, tokensUsed int) error
}

// PersonaStore reads personas and bumps their conversation counter.
type PersonaStore interface {
	GetPromptSource(ctx context.Context, id uuid.UUID) (*prompt.Source, error)
	IncrementConversationCount(ctx context.Context, id uuid.UUID) error
}

// Generator runs provider calls under the fallback policy.
type Generator interface {
	Complete(ctx context.Context, req *llm.Request) (*llm.Outcome, error)
	Stream(ctx context.Context, req *llm.Request) (llm.DeltaStream, string, error)
}

// EventPublisher receives best-effort generation events.
type EventPublisher interface {
	PublishGenerationCompleted(ctx context.Context, event inats.GenerationEvent) error
	PublishGenerationFailed(ctx context.Context, event inats.GenerationEvent) error
	PublishQuotaDenied(ctx context.Context, event inats.QuotaDeniedEvent) error
}

type Service struct {
	quota     QuotaGate
	personas  PersonaStore
	llm       Generator
	publisher EventPublisher
	cfg       config.GenerationConfig
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher enables event publishing.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func NewService(quota QuotaGate, personas PersonaStore, gen Generator, cfg config.GenerationConfig, opts ...Option) *Service {
	s := &Service{
		quota:    quota,
		personas: personas,
		llm:      gen,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/aiox-platform/personachat/internal/generation"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// prepared is what both modes know before the first provider call.
type prepared struct {
	decision *usage.Decision
	llmReq   *llm.Request
}

// Generate produces a complete reply. A quota refusal is returned as
// *QuotaExceededError and provider failures as *GenerationError.
func (s *Service) Generate(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "generation.generate", trace.WithAttributes(
		attribute.String("persona.id", req.PersonaID.String()),
	))
	defer span.End()

	p, err := s.prepare(ctx, modeBuffered, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	out, err := s.llm.Complete(ctx, p.llmReq)
	if err != nil {
		err = s.failed(ctx, modeBuffered, req, err)
		recordSpanError(span, err)
		return nil, err
	}

	res, err := s.finish(ctx, modeBuffered, req, p.decision, out.Text, out.Tokens, out.ProviderUsed)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("llm.provider_used", res.ProviderUsed), attribute.Int("llm.tokens", res.TokensUsed))
	return res, nil
}

// GenerateStream validates quota and persona synchronously, then streams
// the reply on the returned channel. The channel carries chunk events
// followed by exactly one terminal event, and is always closed. If ctx is
// canceled the provider request is abandoned, nothing is committed and the
// channel is closed without a terminal event.
func (s *Service) GenerateStream(ctx context.Context, req *Request) (<-chan Event, error) {
	p, err := s.prepare(ctx, modeStream, req)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, streamBuffer)
	go s.stream(ctx, req, p, events)
	return events, nil
}

func (s *Service) stream(ctx context.Context, req *Request, p *prepared, events chan<- Event) {
	defer close(events)
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	ctx, span := s.tracer.Start(ctx, "generation.stream", trace.WithAttributes(
		attribute.String("persona.id", req.PersonaID.String()),
	))
	defer span.End()

	ds, providerUsed, err := s.llm.Stream(ctx, p.llmReq)
	if err != nil {
		s.streamFailed(ctx, span, req, err, events)
		return
	}
	defer ds.Close()

	var sb strings.Builder
	for ds.Next() {
		delta := ds.Delta()
		sb.WriteString(delta)
		if !send(ctx, events, Event{Chunk: delta}) {
			s.canceled(span, req)
			return
		}
	}
	if err := ds.Err(); err != nil {
		s.streamFailed(ctx, span, req, err, events)
		return
	}
	if ctx.Err() != nil {
		s.canceled(span, req)
		return
	}

	text := sb.String()
	res, err := s.finish(ctx, modeStream, req, p.decision, text, llm.TokensOrEstimate(ds.Tokens(), text), providerUsed)
	if err != nil {
		recordSpanError(span, err)
		send(ctx, events, Event{Error: err.Error()})
		return
	}

	span.SetAttributes(attribute.String("llm.provider_used", res.ProviderUsed), attribute.Int("llm.tokens", res.TokensUsed))
	send(ctx, events, Event{
		Done:         true,
		TokensUsed:   res.TokensUsed,
		Sentiment:    res.Sentiment,
		ProviderUsed: res.ProviderUsed,
	})
}

func (s *Service) streamFailed(ctx context.Context, span trace.Span, req *Request, err error, events chan<- Event) {
	if ctx.Err() != nil {
		s.canceled(span, req)
		return
	}
	err = s.failed(ctx, modeStream, req, err)
	recordSpanError(span, err)
	send(ctx, events, Event{Error: err.Error()})
}

func (s *Service) canceled(span trace.Span, req *Request) {
	metrics.GenerationsTotal.WithLabelValues(modeStream, "canceled").Inc()
	span.SetAttributes(attribute.Bool("generation.canceled", true))
	slog.Info("generation: stream canceled by caller, usage not committed",
		"user_id", req.UserID, "persona_id", req.PersonaID)
}

// prepare runs the quota check, loads the persona and assembles provider input.
func (s *Service) prepare(ctx context.Context, mode string, req *Request) (*prepared, error) {
	decision, err := s.quota.Check(ctx, req.UserID)
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues(mode, "error").Inc()
		return nil, fmt.Errorf("checking quota: %w", err)
	}
	if !decision.Allowed {
		metrics.GenerationsTotal.WithLabelValues(mode, "quota_exceeded").Inc()
		s.publishQuotaDenied(ctx, req, decision)
		return nil, &QuotaExceededError{Reason: decision.Reason, Window: decision.Window, Limit: decision.Limit, Used: decision.Used}
	}

	src, err := s.personas.GetPromptSource(ctx, req.PersonaID)
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues(mode, "persona_error").Inc()
		return nil, err
	}

	history, userText := prompt.Prepare(req.UserMessage, req.History, s.cfg.HistoryLimit)

	temperature := s.cfg.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	var maxTokens int
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	return &prepared{
		decision: decision,
		llmReq: &llm.Request{
			System:      prompt.Build(src),
			History:     history,
			UserText:    userText,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
	}, nil
}

// finish tags the reply, commits usage and bumps the persona counter.
// A commit failure is logged and the reply is still returned: the provider
// call already happened.
func (s *Service) finish(ctx context.Context, mode string, req *Request, d *usage.Decision, text string, tokens int, providerUsed string) (*Result, error) {
	res := &Result{
		Text:         text,
		TokensUsed:   tokens,
		Sentiment:    sentiment.Tag(text),
		ProviderUsed: providerUsed,
		Usage:        Usage{MessagesToday: d.Used + 1},
	}
	if !d.Unlimited {
		limit := d.Limit
		res.Usage.Limit = &limit
	}

	if err := s.quota.Commit(ctx, req.UserID, tokens); err != nil {
		slog.Error("generation: failed to commit usage", "error", err, "user_id", req.UserID, "tokens", tokens)
	}

	if err := s.personas.IncrementConversationCount(ctx, req.PersonaID); err != nil {
		slog.Warn("generation: failed to increment conversation count", "error", err, "persona_id", req.PersonaID)
	}

	metrics.GenerationsTotal.WithLabelValues(mode, "ok").Inc()
	metrics.TokensUsedTotal.WithLabelValues(providerUsed).Add(float64(tokens))

	s.publish(ctx, func(pctx context.Context) error {
		return s.publisher.PublishGenerationCompleted(pctx, inats.GenerationEvent{
			ID:           uuid.New(),
			UserID:       req.UserID,
			PersonaID:    req.PersonaID,
			Mode:         mode,
			ProviderUsed: providerUsed,
			TokensUsed:   tokens,
			Sentiment:    string(res.Sentiment),
			Timestamp:    s.now().UTC(),
		})
	})

	return res, nil
}

// failed converts a provider failure and reports it.
func (s *Service) failed(ctx context.Context, mode string, req *Request, err error) error {
	gerr := providerFailure(err)

	var ge *GenerationError
	if !errors.As(gerr, &ge) {
		metrics.GenerationsTotal.WithLabelValues(mode, "canceled").Inc()
		return gerr
	}

	metrics.GenerationsTotal.WithLabelValues(mode, "provider_error").Inc()
	slog.Error("generation: provider call failed",
		"error", ge.detail(), "kind", ge.Kind, "provider", ge.Provider,
		"mode", mode, "persona_id", req.PersonaID)

	s.publish(ctx, func(pctx context.Context) error {
		return s.publisher.PublishGenerationFailed(pctx, inats.GenerationEvent{
			ID:           uuid.New(),
			UserID:       req.UserID,
			PersonaID:    req.PersonaID,
			Mode:         mode,
			ProviderUsed: ge.Provider,
			Error:        string(ge.Kind),
			Timestamp:    s.now().UTC(),
		})
	})
	return gerr
}

func (s *Service) publishQuotaDenied(ctx context.Context, req *Request, d *usage.Decision) {
	s.publish(ctx, func(pctx context.Context) error {
		return s.publisher.PublishQuotaDenied(pctx, inats.QuotaDeniedEvent{
			ID:        uuid.New(),
			UserID:    req.UserID,
			PersonaID: req.PersonaID,
			Reason:    d.Reason,
			Limit:     d.Limit,
			Used:      d.Used,
			Timestamp: s.now().UTC(),
		})
	})
}

// publish runs fn with a context detached from the request so a client
// disconnect does not drop the event. Failures are logged only.
func (s *Service) publish(ctx context.Context, fn func(context.Context) error) {
	if s.publisher == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := fn(pctx); err != nil {
		slog.Warn("generation: failed to publish event", "error", err)
	}
}

func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

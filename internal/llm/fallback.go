package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aiox-platform/personachat/internal/metrics"
)

const (
	modeBuffered = "buffered"
	modeStream   = "stream"
)

// Outcome is a successful buffered generation and the provider that produced it.
type Outcome struct {
	Completion
	ProviderUsed string
}

// Fallback calls the primary provider and, only for server-side failures,
// retries exactly once against the fallback provider. The fallback's error is
// returned when both fail.
type Fallback struct {
	primary  Provider
	fallback Provider
	tracer   trace.Tracer
}

func NewFallback(primary, fallback Provider) *Fallback {
	return &Fallback{
		primary:  primary,
		fallback: fallback,
		tracer:   otel.Tracer("github.com/aiox-platform/personachat/internal/llm"),
	}
}

// Complete runs a buffered generation under the fallback policy.
func (f *Fallback) Complete(ctx context.Context, req *Request) (*Outcome, error) {
	comp, err := f.complete(ctx, f.primary, req)
	if err == nil {
		return &Outcome{Completion: *comp, ProviderUsed: f.primary.Name()}, nil
	}
	if !IsServerSide(err) {
		return nil, err
	}

	f.logSwitch(modeBuffered, err)
	comp, err = f.complete(ctx, f.fallback, req)
	if err != nil {
		return nil, err
	}
	return &Outcome{Completion: *comp, ProviderUsed: f.fallback.Name()}, nil
}

// Stream opens a streamed generation under the fallback policy. The switch to
// the fallback provider can only happen before the first delta is returned:
// the primary stream is primed with its first delta here, and any failure
// after that surfaces through the returned stream's Err.
func (f *Fallback) Stream(ctx context.Context, req *Request) (DeltaStream, string, error) {
	s, err := f.open(ctx, f.primary, req)
	if err == nil {
		return s, f.primary.Name(), nil
	}
	if !IsServerSide(err) {
		return nil, "", err
	}

	f.logSwitch(modeStream, err)
	s, err = f.open(ctx, f.fallback, req)
	if err != nil {
		return nil, "", err
	}
	return s, f.fallback.Name(), nil
}

func (f *Fallback) complete(ctx context.Context, p Provider, req *Request) (*Completion, error) {
	ctx, span := f.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.provider", p.Name()),
	))
	defer span.End()

	start := time.Now()
	comp, err := p.Complete(ctx, req)
	if err == nil && comp.Text == "" {
		err = NewEmptyError(p.Name(), nil)
	}
	if err != nil {
		err = asProviderError(ctx, p.Name(), err)
		observe(p.Name(), modeBuffered, "error", start)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	observe(p.Name(), modeBuffered, "ok", start)
	span.SetAttributes(attribute.Int("llm.tokens", comp.Tokens))
	return comp, nil
}

func (f *Fallback) open(ctx context.Context, p Provider, req *Request) (DeltaStream, error) {
	ctx, span := f.tracer.Start(ctx, "llm.stream.open", trace.WithAttributes(
		attribute.String("llm.provider", p.Name()),
	))
	defer span.End()

	start := time.Now()
	s, err := p.Stream(ctx, req)
	if err == nil {
		if s.Next() {
			observe(p.Name(), modeStream, "ok", start)
			return &primedStream{DeltaStream: s, current: s.Delta(), primed: true}, nil
		}
		err = s.Err()
		s.Close()
		if err == nil {
			err = NewEmptyError(p.Name(), nil)
		}
	}

	err = asProviderError(ctx, p.Name(), err)
	observe(p.Name(), modeStream, "error", start)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (f *Fallback) logSwitch(mode string, cause error) {
	metrics.ProviderFallbacksTotal.WithLabelValues(mode).Inc()
	slog.Warn("llm: primary provider failed, falling back",
		"primary", f.primary.Name(),
		"fallback", f.fallback.Name(),
		"mode", mode,
		"error", cause,
	)
}

// primedStream replays the delta consumed while deciding on fallback.
type primedStream struct {
	DeltaStream
	current string
	primed  bool
}

func (p *primedStream) Next() bool {
	if p.primed {
		p.primed = false
		return true
	}
	if p.DeltaStream.Next() {
		p.current = p.DeltaStream.Delta()
		return true
	}
	p.current = ""
	return false
}

func (p *primedStream) Delta() string {
	return p.current
}

func asProviderError(ctx context.Context, provider string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return ClassifyTransport(provider, ctx, ctx, err)
}

func observe(provider, mode, outcome string, start time.Time) {
	metrics.ProviderRequestDuration.WithLabelValues(provider, mode, outcome).Observe(time.Since(start).Seconds())
}

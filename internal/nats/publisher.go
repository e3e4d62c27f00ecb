package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishGenerationCompleted publishes a successful generation.
func (p *Publisher) PublishGenerationCompleted(ctx context.Context, event GenerationEvent) error {
	return p.publish(ctx, SubjectGenerationCompleted, event)
}

// PublishGenerationFailed publishes a generation that ended in a provider failure.
func (p *Publisher) PublishGenerationFailed(ctx context.Context, event GenerationEvent) error {
	return p.publish(ctx, SubjectGenerationFailed, event)
}

// PublishQuotaDenied publishes a quota refusal.
func (p *Publisher) PublishQuotaDenied(ctx context.Context, event QuotaDeniedEvent) error {
	return p.publish(ctx, SubjectQuotaDenied, event)
}

// PublishUsageReset publishes the outcome of a scheduled reset.
func (p *Publisher) PublishUsageReset(ctx context.Context, event UsageResetEvent) error {
	return p.publish(ctx, SubjectUsageReset, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

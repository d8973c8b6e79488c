package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tic-ai/inference-platform/internal/model"
	"github.com/tic-ai/inference-platform/pkg/metrics"
)

const (
	// StreamName is the name of the transcripts stream.
	StreamName = "TRANSCRIPTS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"
)

// Publisher writes conversation transcripts and completion outcomes to
// JetStream so external presentation layers can replay them. All methods are
// nil-safe: a nil Publisher drops everything, which keeps the broker
// optional at startup.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher over an established client.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream ensures the transcripts stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	if p == nil {
		return nil
	}
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation messages and completion events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// MessageSubject returns the subject for a message.
func MessageSubject(tenantID, conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, tenantID, conversationID, role)
}

// EventSubject returns the subject for a completion event.
func EventSubject(tenantID, conversationID string, eventType model.CompletionEventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, tenantID, conversationID, eventType)
}

// PublishMessage publishes a message to JetStream.
func (p *Publisher) PublishMessage(ctx context.Context, tenantID string, msg *model.Message) error {
	if p == nil {
		return nil
	}
	subject := MessageSubject(tenantID, msg.ConversationID, msg.Role)

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// PublishEvent publishes a terminal completion event to JetStream.
func (p *Publisher) PublishEvent(ctx context.Context, event *model.CompletionEvent) error {
	if p == nil {
		return nil
	}
	subject := EventSubject(event.TenantID, event.ConversationID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, subject, data); err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tic-ai/inference-platform/internal/completion"
	"github.com/tic-ai/inference-platform/internal/llm"
	"github.com/tic-ai/inference-platform/internal/model"
	natsclient "github.com/tic-ai/inference-platform/internal/nats"
	"github.com/tic-ai/inference-platform/internal/template"
	"github.com/tic-ai/inference-platform/pkg/logger"
	"github.com/tic-ai/inference-platform/pkg/metrics"
)

// SessionFactory constructs a fresh generation session for one completion
// request. Each session is exclusively owned by the request it is built for.
type SessionFactory func() (llm.Session, error)

// EventCallback receives engine events in generation order while a
// completion is streaming.
type EventCallback func(ev completion.Event)

// GenerationSettings fixes the sampling strategy and token budget applied to
// every completion.
type GenerationSettings struct {
	Sampling  llm.SamplingParams
	MaxTokens int
	ModelName string
}

// CompletionService renders conversations, submits completion requests and
// drives their engines to termination.
type CompletionService struct {
	templates     *template.Registry
	registry      *completion.Registry
	conversations *ConversationService
	publisher     *natsclient.Publisher
	sessions      SessionFactory
	settings      GenerationSettings
	logger        *logger.Logger
}

// NewCompletionService creates a new completion service.
func NewCompletionService(
	templates *template.Registry,
	registry *completion.Registry,
	conversations *ConversationService,
	publisher *natsclient.Publisher,
	sessions SessionFactory,
	settings GenerationSettings,
	log *logger.Logger,
) *CompletionService {
	return &CompletionService{
		templates:     templates,
		registry:      registry,
		conversations: conversations,
		publisher:     publisher,
		sessions:      sessions,
		settings:      settings,
		logger:        log,
	}
}

// Render serializes the conversation's transcript for its template family
// without starting a completion; used for pre-send preview and logging.
func (s *CompletionService) Render(ctx context.Context, tenantID, conversationID string) (string, error) {
	conv, err := s.conversations.Get(ctx, tenantID, conversationID)
	if err != nil {
		return "", err
	}
	transcript, err := s.conversations.Transcript(ctx, tenantID, conversationID)
	if err != nil {
		return "", err
	}
	return s.templates.Render(template.Family(conv.Family), transcript)
}

// Stream appends the user message, renders the conversation, submits a
// completion request and drives its engine until the terminal event. Events
// are delivered to the callback one per activation, in generation order. On
// success the assistant message is stored and returned.
//
// Cancelling ctx stops further activation; the in-flight request then
// terminates with an error event and its session is released.
func (s *CompletionService) Stream(
	ctx context.Context,
	tenantID, conversationID string,
	req *model.SendMessageRequest,
	onEvent EventCallback,
) (*model.Message, error) {
	conv, err := s.conversations.Get(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}

	userMsg := &model.Message{
		ID:                  uuid.Must(uuid.NewV7()).String(),
		ConversationID:      conversationID,
		Role:                model.RoleUser,
		Content:             req.Content,
		IncludeInCompletion: true,
		CreatedAt:           time.Now(),
	}
	if err := s.conversations.AddMessage(ctx, tenantID, userMsg); err != nil {
		return nil, err
	}
	if err := s.publisher.PublishMessage(ctx, tenantID, userMsg); err != nil {
		s.logger.Warn("failed to publish user message", zap.Error(err))
	}

	family := template.Family(conv.Family)
	prompt := s.renderOrFallback(ctx, tenantID, conversationID, family, req.Content)

	session, err := s.sessions()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	creq := s.registry.Submit(prompt, session, completion.GenerationConfig{
		StopMarker: s.templates.StopMarker(family),
		Sampling:   s.settings.Sampling,
		MaxTokens:  s.settings.MaxTokens,
	})
	log := s.logger.WithCompletion(conversationID, creq.ID)
	log.Info("completion submitted", zap.Int("prompt_bytes", len(prompt)))

	streamStart := time.Now()
	outcome := s.drive(ctx, creq.Engine(), onEvent)
	streamEnd := time.Now()
	metrics.RecordCompletion(outcome, streamEnd.Sub(streamStart).Seconds())

	snap, ok := s.registry.Get(creq.ID)
	if !ok {
		// Removed while streaming; the consumer abandoned the request.
		log.Debug("completion removed before terminal event")
		return nil, nil
	}

	switch snap.State {
	case completion.StateDone:
		assistantMsg := s.storeAssistantMessage(ctx, tenantID, conv, &snap, streamStart, streamEnd)
		s.publishOutcome(tenantID, conv.ID, creq.ID, model.CompletionEventDone, "")
		log.Info("completion done", zap.Int("output_bytes", len(snap.Output)))
		return assistantMsg, nil
	case completion.StateError:
		s.publishOutcome(tenantID, conv.ID, creq.ID, model.CompletionEventError, snap.Err)
		log.Warn("completion failed", zap.String("reason", snap.Err))
		return nil, nil
	default:
		// Driving stopped early (cancelled ctx); leave the request parked.
		return nil, nil
	}
}

// Complete is the non-streaming variant: it blocks until the completion
// terminates and returns the assistant message.
func (s *CompletionService) Complete(ctx context.Context, tenantID, conversationID string, req *model.SendMessageRequest) (*model.Message, error) {
	return s.Stream(ctx, tenantID, conversationID, req, nil)
}

// Lookup returns a snapshot of a tracked completion request.
func (s *CompletionService) Lookup(id uint64) (completion.Request, bool) {
	return s.registry.Get(id)
}

// Abandon releases a request the consumer is no longer interested in. The
// engine is never activated again and the session is dropped with it.
func (s *CompletionService) Abandon(id uint64) {
	s.registry.Remove(id)
}

// drive advances the engine one activation at a time until it reaches a
// terminal event, applying each event to the registry and forwarding it to
// the consumer. Returns the outcome label.
func (s *CompletionService) drive(ctx context.Context, eng *completion.Engine, onEvent EventCallback) string {
	for {
		ev, ok := eng.Step(ctx)
		if !ok {
			return "abandoned"
		}
		if !s.registry.Apply(ev) {
			// The request was removed while streaming; stop activating
			// the engine and release its stream.
			eng.Abort()
			return "abandoned"
		}
		if ev.Kind == completion.EventText {
			metrics.CompletionTextEvents.Inc()
		}
		if onEvent != nil {
			onEvent(ev)
		}
		switch ev.Kind {
		case completion.EventDone:
			return "done"
		case completion.EventError:
			return "error"
		}
	}
}

// renderOrFallback renders the transcript, degrading to the raw last user
// turn when rendering fails.
func (s *CompletionService) renderOrFallback(ctx context.Context, tenantID, conversationID string, family template.Family, lastUserTurn string) string {
	transcript, err := s.conversations.Transcript(ctx, tenantID, conversationID)
	if err == nil {
		var rendered string
		rendered, err = s.templates.Render(family, transcript)
		if err == nil {
			return rendered
		}
	}

	var renderErr *template.RenderError
	if errors.As(err, &renderErr) {
		s.logger.Warn("render failed, degrading to raw prompt",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	} else {
		s.logger.Error("render failed, degrading to raw prompt",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	metrics.RenderFallbacks.Inc()
	return lastUserTurn
}

func (s *CompletionService) storeAssistantMessage(
	ctx context.Context,
	tenantID string,
	conv *model.Conversation,
	snap *completion.Request,
	streamStart, streamEnd time.Time,
) *model.Message {
	stopReason := "stop"
	msg := &model.Message{
		ID:                  uuid.Must(uuid.NewV7()).String(),
		ConversationID:      conv.ID,
		Role:                model.RoleAssistant,
		Content:             snap.Output,
		IncludeInCompletion: true,
		CompletionID:        snap.ID,
		Model:               &s.settings.ModelName,
		StopReason:          &stopReason,
		StreamStarted:       &streamStart,
		StreamEnded:         &streamEnd,
		CreatedAt:           time.Now(),
	}
	if err := s.conversations.AddMessage(ctx, tenantID, msg); err != nil {
		s.logger.Warn("failed to store assistant message", zap.Error(err))
		return msg
	}
	if err := s.publisher.PublishMessage(ctx, tenantID, msg); err != nil {
		s.logger.Warn("failed to publish assistant message", zap.Error(err))
	}
	return msg
}

func (s *CompletionService) publishOutcome(tenantID, conversationID string, completionID uint64, eventType model.CompletionEventType, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := &model.CompletionEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		TenantID:       tenantID,
		CompletionID:   completionID,
		Type:           eventType,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}
	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("failed to publish completion event", zap.Error(err))
	}
}

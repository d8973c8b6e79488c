// Package service provides business logic for the inference platform.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tic-ai/inference-platform/internal/model"
	"github.com/tic-ai/inference-platform/internal/template"
	"github.com/tic-ai/inference-platform/pkg/logger"
)

// ErrNotFound is returned when a conversation does not exist for the tenant.
var ErrNotFound = errors.New("conversation not found")

// ConversationService handles conversation and message storage.
type ConversationService struct {
	templates     *template.Registry
	defaultFamily template.Family
	logger        *logger.Logger

	// In-memory storage; transcripts are additionally published to
	// JetStream for durable consumers.
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
}

// NewConversationService creates a new conversation service. defaultFamily
// is applied to conversations created without an explicit family.
func NewConversationService(templates *template.Registry, defaultFamily template.Family, log *logger.Logger) *ConversationService {
	if defaultFamily == "" {
		defaultFamily = template.DefaultFamily
	}
	return &ConversationService{
		templates:     templates,
		defaultFamily: defaultFamily,
		logger:        log,
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

// Create creates a new conversation bound to a template family.
func (s *ConversationService) Create(ctx context.Context, tenantID, userID string, req *model.CreateConversationRequest) (*model.Conversation, error) {
	family := template.Family(req.Family)
	if req.Family == "" {
		family = s.defaultFamily
	}
	if !s.templates.Known(family) {
		return nil, errors.New("unknown template family")
	}

	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		TenantID:  tenantID,
		UserID:    userID,
		Title:     req.Title,
		Family:    string(family),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  req.Metadata,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("tenant_id", tenantID),
		zap.String("family", conv.Family),
	)

	return conv, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	conv, exists := s.conversations[conversationID]
	s.mu.RUnlock()

	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return nil, ErrNotFound
	}
	return conv, nil
}

// List retrieves conversations for a tenant.
func (s *ConversationService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListConversationsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.TenantID == tenantID && !conv.Deleted {
			convs = append(convs, *conv)
		}
	}

	total := len(convs)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return &model.ListConversationsResponse{
		Conversations: convs[start:end],
		Total:         total,
		HasMore:       end < total,
	}, nil
}

// Update updates a conversation.
func (s *ConversationService) Update(ctx context.Context, tenantID, conversationID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return nil, ErrNotFound
	}

	if req.Title != "" {
		conv.Title = req.Title
	}
	if req.Metadata != nil {
		conv.Metadata = req.Metadata
	}
	conv.UpdatedAt = time.Now()

	return conv, nil
}

// Delete soft deletes a conversation.
func (s *ConversationService) Delete(ctx context.Context, tenantID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return ErrNotFound
	}

	conv.Deleted = true
	conv.UpdatedAt = time.Now()
	return nil
}

// AddMessage appends a message to a conversation. Messages are immutable
// once added; ordering is append order.
func (s *ConversationService) AddMessage(ctx context.Context, tenantID string, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, exists := s.conversations[msg.ConversationID]
	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return ErrNotFound
	}

	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	conv.LastMessage = msg
	conv.MessageCount++
	conv.UpdatedAt = time.Now()
	return nil
}

// Messages returns all messages of a conversation in order.
func (s *ConversationService) Messages(ctx context.Context, tenantID, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[conversationID]
	if !exists || conv.TenantID != tenantID || conv.Deleted {
		return nil, ErrNotFound
	}

	msgs := s.messages[conversationID]
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Transcript returns the messages that participate in completion context,
// in conversation order.
func (s *ConversationService) Transcript(ctx context.Context, tenantID, conversationID string) ([]model.Message, error) {
	msgs, err := s.Messages(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if m.IncludeInCompletion {
			out = append(out, m)
		}
	}
	return out, nil
}

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tic-ai/inference-platform/internal/completion"
	"github.com/tic-ai/inference-platform/internal/middleware"
	"github.com/tic-ai/inference-platform/internal/model"
	"github.com/tic-ai/inference-platform/internal/service"
	"github.com/tic-ai/inference-platform/pkg/logger"
	"github.com/tic-ai/inference-platform/pkg/metrics"
)

// CompletionHandler handles completion endpoints, including the SSE stream.
type CompletionHandler struct {
	completionService   *service.CompletionService
	conversationService *service.ConversationService
	logger              *logger.Logger
}

// NewCompletionHandler creates a new completion handler.
func NewCompletionHandler(
	cmplSvc *service.CompletionService,
	convSvc *service.ConversationService,
	log *logger.Logger,
) *CompletionHandler {
	return &CompletionHandler{
		completionService:   cmplSvc,
		conversationService: convSvc,
		logger:              log,
	}
}

// Stream handles POST /api/v1/conversations/:id/completions
// It accepts a user message and streams the completion as SSE events.
func (h *CompletionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.conversationService.Get(ctx, tenantID, conversationID); err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	index := 0
	var failed *model.ErrorEvent

	assistantMsg, err := h.completionService.Stream(ctx, tenantID, conversationID, &req,
		func(ev completion.Event) {
			switch ev.Kind {
			case completion.EventText:
				if ev.Text == "" {
					return
				}
				sendSSEEvent(w, flusher, "token", &model.TokenEvent{
					CompletionID: ev.RequestID,
					Text:         ev.Text,
					Index:        index,
				})
				index++
			case completion.EventError:
				failed = &model.ErrorEvent{
					CompletionID: ev.RequestID,
					Code:         "completion_error",
					Message:      ev.Err,
				}
			}
		})
	if err != nil {
		sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
			Code:    "stream_error",
			Message: err.Error(),
		})
		return
	}
	if failed != nil {
		sendSSEEvent(w, flusher, "error", failed)
		return
	}

	done := &model.DoneEvent{Message: assistantMsg}
	if assistantMsg != nil {
		done.CompletionID = assistantMsg.CompletionID
	}
	sendSSEEvent(w, flusher, "done", done)
}

// Send handles POST /api/v1/conversations/:id/messages
// Non-streaming variant of Stream: it blocks until the completion
// terminates and returns the assistant reply in one response.
func (h *CompletionHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.completionService.Complete(ctx, tenantID, conversationID, &req)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("completion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "completion failed")
		return
	}
	if msg == nil {
		// The request terminated with an error event or was abandoned.
		writeError(w, http.StatusBadGateway, "completion did not produce a reply")
		return
	}

	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{
		Message:      msg,
		CompletionID: msg.CompletionID,
	})
}

// Get handles GET /api/v1/completions/:id
// It returns the registry snapshot of one completion request.
func (h *CompletionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseCompletionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, ok := h.completionService.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "completion not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"completion_id": snap.ID,
		"state":         snap.State.String(),
		"output":        snap.Output,
		"error":         snap.Err,
	})
}

// Abandon handles DELETE /api/v1/completions/:id
// The request's engine is never activated again; its session is released.
func (h *CompletionHandler) Abandon(w http.ResponseWriter, r *http.Request) {
	id, err := parseCompletionID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.completionService.Abandon(id)
	w.WriteHeader(http.StatusNoContent)
}

// Render handles GET /api/v1/conversations/:id/render
// It returns the rendered prompt for preview and logging use.
func (h *CompletionHandler) Render(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rendered, err := h.completionService.Render(ctx, tenantID, conversationID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Warn("render preview failed", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"prompt": rendered})
}

func parseCompletionID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("invalid completion ID format")
	}
	return id, nil
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		logger.Global().Warn("failed to encode SSE event", zap.Error(err))
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()
}

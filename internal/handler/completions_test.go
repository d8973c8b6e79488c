package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tic-ai/inference-platform/internal/completion"
	"github.com/tic-ai/inference-platform/internal/llm"
	"github.com/tic-ai/inference-platform/internal/middleware"
	"github.com/tic-ai/inference-platform/internal/model"
	"github.com/tic-ai/inference-platform/internal/service"
	"github.com/tic-ai/inference-platform/internal/template"
	"github.com/tic-ai/inference-platform/pkg/logger"
)

type fakeSession struct {
	chunks []string
}

func (s *fakeSession) LoadContext(ctx context.Context, prompt string) error { return nil }

func (s *fakeSession) BeginGeneration(ctx context.Context, params llm.SamplingParams, maxTokens int) (llm.TextStream, error) {
	return &fakeStream{chunks: s.chunks}, nil
}

type fakeStream struct {
	chunks []string
	pos    int
}

func (s *fakeStream) Recv(ctx context.Context) (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *fakeStream) Close() error { return nil }

type apiFixture struct {
	router *chi.Mux
	convs  *service.ConversationService
	conv   *model.Conversation
}

// withIdentity stands in for the auth middleware.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.UserIDKey, "user-1")
		ctx = context.WithValue(ctx, middleware.TenantIDKey, "tenant-1")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newAPIFixture(t *testing.T, chunks []string) *apiFixture {
	t.Helper()

	templates, err := template.NewRegistry()
	require.NoError(t, err)

	log := logger.NewNop()
	convs := service.NewConversationService(templates, "", log)
	registry := completion.NewRegistry(log)
	cmplSvc := service.NewCompletionService(
		templates,
		registry,
		convs,
		nil,
		func() (llm.Session, error) { return &fakeSession{chunks: chunks}, nil },
		service.GenerationSettings{Sampling: llm.DefaultSamplingParams(), MaxTokens: 256, ModelName: "llama3"},
		log,
	)

	convHandler := NewConversationHandler(convs, log)
	cmplHandler := NewCompletionHandler(cmplSvc, convs, log)

	r := chi.NewRouter()
	r.Use(withIdentity)
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", convHandler.Create)
		r.Get("/", convHandler.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", convHandler.Get)
			r.Put("/", convHandler.Update)
			r.Delete("/", convHandler.Delete)
			r.Get("/messages", convHandler.Messages)
			r.Post("/messages", cmplHandler.Send)
			r.Get("/render", cmplHandler.Render)
			r.Post("/completions", cmplHandler.Stream)
		})
	})
	r.Route("/completions/{id}", func(r chi.Router) {
		r.Get("/", cmplHandler.Get)
		r.Delete("/", cmplHandler.Abandon)
	})

	conv, err := convs.Create(context.Background(), "tenant-1", "user-1", &model.CreateConversationRequest{
		Title: "fixture",
	})
	require.NoError(t, err)

	return &apiFixture{router: r, convs: convs, conv: conv}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestStreamEndpointEmitsSSE(t *testing.T) {
	f := newAPIFixture(t, []string{"The answer", " is 42", "<|eot_id|>"})

	rec := f.do(http.MethodPost, "/conversations/"+f.conv.ID+"/completions",
		`{"content":"What is 6 x 7?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: token")
	assert.Contains(t, body, `"text":"The answer"`)
	assert.Contains(t, body, `"text":" is 42"`)
	assert.Contains(t, body, "event: done")
	assert.NotContains(t, body, "<|eot_id|>")
	assert.NotContains(t, body, "event: error")
}

func TestStreamEndpointRejectsEmptyContent(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodPost, "/conversations/"+f.conv.ID+"/completions", `{"content":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamEndpointUnknownConversation(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodPost, "/conversations/0190c2a0-0000-7000-8000-000000000000/completions",
		`{"content":"hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompletionLookupAndAbandon(t *testing.T) {
	f := newAPIFixture(t, []string{"42<|eot_id|>"})

	rec := f.do(http.MethodPost, "/conversations/"+f.conv.ID+"/completions", `{"content":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/completions/1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		State  string `json:"state"`
		Output string `json:"output"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "done", snap.State)
	assert.Equal(t, "42", snap.Output)

	rec = f.do(http.MethodDelete, "/completions/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/completions/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompletionLookupInvalidID(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodGet, "/completions/not-a-number", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenderEndpoint(t *testing.T) {
	f := newAPIFixture(t, []string{"Hi<|eot_id|>"})

	rec := f.do(http.MethodPost, "/conversations/"+f.conv.ID+"/completions", `{"content":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/conversations/"+f.conv.ID+"/render", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["prompt"], "<|begin_of_text|>"))
	assert.Contains(t, resp["prompt"], "Hello")
	assert.Contains(t, resp["prompt"], "Hi")
}

func TestSendEndpointReturnsAssistantReply(t *testing.T) {
	f := newAPIFixture(t, []string{"The answer is 42", "<|eot_id|>"})

	rec := f.do(http.MethodPost, "/conversations/"+f.conv.ID+"/messages",
		`{"content":"What is 6 x 7?"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp model.SendMessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Message)
	assert.Equal(t, model.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "The answer is 42", resp.Message.Content)
	assert.Equal(t, resp.Message.CompletionID, resp.CompletionID)
	assert.NotZero(t, resp.CompletionID)
}

func TestSendEndpointUnknownConversation(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodPost, "/conversations/0190c2a0-0000-7000-8000-000000000000/messages",
		`{"content":"hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationLifecycleEndpoints(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodPost, "/conversations", `{"title":"new chat","family":"chatml"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var conv model.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "chatml", conv.Family)

	rec = f.do(http.MethodPut, "/conversations/"+conv.ID, `{"title":"renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/conversations/"+conv.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, "renamed", conv.Title)

	rec = f.do(http.MethodGet, "/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(http.MethodGet, "/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationCreateUnknownFamily(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(http.MethodPost, "/conversations", `{"family":"mistral"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesEndpoint(t *testing.T) {
	f := newAPIFixture(t, []string{"Hi<|eot_id|>"})

	rec := f.do(http.MethodPost, "/conversations/"+f.conv.ID+"/completions", `{"content":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/conversations/"+f.conv.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.ListMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, model.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, model.RoleAssistant, resp.Messages[1].Role)
	assert.Equal(t, "Hi", resp.Messages[1].Content)
}

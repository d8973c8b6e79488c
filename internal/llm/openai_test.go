package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAISessionStreamsCompletion(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/completions", r.URL.Path)

		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Prompt
		assert.True(t, req.Stream)
		assert.Equal(t, "llama3", req.Model)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\n", `{"id":"1","object":"text_completion","choices":[{"text":"The answer","index":0}]}`)
		fmt.Fprintf(w, "data: %s\n\n", `{"id":"1","object":"text_completion","choices":[{"text":" is 42","index":0}]}`)
		fmt.Fprintf(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	s, err := NewOpenAISession(Config{BaseURL: srv.URL, Model: "llama3"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.LoadContext(ctx, "rendered prompt"))

	stream, err := s.BeginGeneration(ctx, DefaultSamplingParams(), 256)
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "The answer is 42", drainStream(t, stream))
	assert.Equal(t, "rendered prompt", gotPrompt)
}

func TestOpenAIBeginGenerationRequiresLoadedContext(t *testing.T) {
	s, err := NewOpenAISession(Config{BaseURL: "http://localhost:8000/v1", Model: "llama3"})
	require.NoError(t, err)

	_, err = s.BeginGeneration(context.Background(), DefaultSamplingParams(), 128)
	require.Error(t, err)

	var sessionErr *SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, "begin_generation", sessionErr.Op)
}

func TestOpenAILoadContextHonorsCancelledContext(t *testing.T) {
	s, err := NewOpenAISession(Config{BaseURL: "http://localhost:8000/v1", Model: "llama3"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.LoadContext(ctx, "prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOpenAISessionValidatesConfig(t *testing.T) {
	_, err := NewOpenAISession(Config{Model: "llama3"})
	assert.Error(t, err)

	_, err = NewOpenAISession(Config{BaseURL: "http://localhost:8000/v1"})
	assert.Error(t, err)
}

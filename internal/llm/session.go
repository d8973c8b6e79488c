// Package llm provides generation session interfaces and backend
// implementations.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// SamplingParams configures the sampling strategy for a generation. The
// completion engine treats it as opaque.
type SamplingParams struct {
	Temperature float32
	TopP        float32
	TopK        int
	Seed        int
}

// DefaultSamplingParams returns the fixed default strategy.
func DefaultSamplingParams() SamplingParams {
	return SamplingParams{Temperature: 0.8, TopP: 0.9, TopK: 40}
}

// Session is one exclusive handle to a loaded model's generation context.
// A session belongs to exactly one completion request for the request's
// lifetime and must not be driven concurrently.
type Session interface {
	// LoadContext advances the session's context with the rendered prompt.
	LoadContext(ctx context.Context, prompt string) error

	// BeginGeneration starts generating and returns the output stream.
	// It may be called once, after a successful LoadContext.
	BeginGeneration(ctx context.Context, params SamplingParams, maxTokens int) (TextStream, error)
}

// TextStream is a lazy, finite, non-restartable sequence of generated text
// fragments. Fragment boundaries carry no semantic meaning. Recv returns
// io.EOF when the stream is exhausted.
type TextStream interface {
	Recv(ctx context.Context) (string, error)
	Close() error
}

// SessionError reports a context-load or generation-start failure. It is
// terminal for the one request that owns the session.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Backend selects a session implementation.
type Backend string

const (
	BackendOpenAI Backend = "openai"
	BackendOllama Backend = "ollama"
)

// Config holds backend connection settings.
type Config struct {
	// BaseURL of the inference server, e.g. an OpenAI-compatible
	// llama.cpp server or an Ollama instance.
	BaseURL string

	// Model is the backend-side model name.
	Model string

	// APIKey is optional; local servers generally ignore it.
	APIKey string

	// MaxPromptBytes bounds the rendered prompt; a longer prompt fails
	// LoadContext. Zero applies the default.
	MaxPromptBytes int
}

const defaultMaxPromptBytes = 128 * 1024

var errSessionConsumed = errors.New("generation already started")

// NewSession creates a session for the configured backend.
func NewSession(backend Backend, cfg Config) (Session, error) {
	switch backend {
	case BackendOpenAI:
		return NewOpenAISession(cfg)
	case BackendOllama:
		return NewOllamaSession(cfg)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// checkPrompt validates a prompt against the configured bound.
func checkPrompt(prompt string, maxBytes int) error {
	if prompt == "" {
		return &SessionError{Op: "load_context", Err: errors.New("empty prompt")}
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxPromptBytes
	}
	if len(prompt) > maxBytes {
		return &SessionError{
			Op:  "load_context",
			Err: fmt.Errorf("prompt length %d exceeds context limit %d", len(prompt), maxBytes),
		}
	}
	return nil
}

package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"
)

// OpenAISession drives an OpenAI-compatible completion endpoint, typically a
// local llama.cpp server. The rendered prompt is sent verbatim, so the chat
// template is applied on our side and the stop marker arrives in the output.
type OpenAISession struct {
	client *openai.Client
	model  string

	maxPromptBytes int
	prompt         string
	loaded         bool
	began          bool
}

// NewOpenAISession creates a session against an OpenAI-compatible server.
func NewOpenAISession(cfg Config) (*OpenAISession, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	return &OpenAISession{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          cfg.Model,
		maxPromptBytes: cfg.MaxPromptBytes,
	}, nil
}

// LoadContext stages the rendered prompt for generation.
func (s *OpenAISession) LoadContext(ctx context.Context, prompt string) error {
	if err := ctx.Err(); err != nil {
		return &SessionError{Op: "load_context", Err: err}
	}
	if err := checkPrompt(prompt, s.maxPromptBytes); err != nil {
		return err
	}
	s.prompt = prompt
	s.loaded = true
	return nil
}

// BeginGeneration starts a streaming completion over the loaded context.
func (s *OpenAISession) BeginGeneration(ctx context.Context, params SamplingParams, maxTokens int) (TextStream, error) {
	if !s.loaded {
		return nil, &SessionError{Op: "begin_generation", Err: errors.New("no context loaded")}
	}
	if s.began {
		return nil, &SessionError{Op: "begin_generation", Err: errSessionConsumed}
	}

	stream, err := s.client.CreateCompletionStream(ctx, openai.CompletionRequest{
		Model:       s.model,
		Prompt:      s.prompt,
		MaxTokens:   maxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		Stream:      true,
	})
	if err != nil {
		return nil, &SessionError{Op: "begin_generation", Err: err}
	}

	s.began = true
	return &openaiStream{stream: stream}, nil
}

type openaiStream struct {
	stream *openai.CompletionStream
}

// Recv returns the next generated fragment; io.EOF ends the stream.
func (s *openaiStream) Recv(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resp, err := s.stream.Recv()
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Text, nil
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}

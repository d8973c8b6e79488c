package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// OllamaSession drives an Ollama server through /api/generate in raw mode:
// the rendered prompt is passed through without Ollama's own templating, so
// stop handling stays with the completion engine.
type OllamaSession struct {
	client *http.Client
	url    string
	model  string

	maxPromptBytes int
	prompt         string
	loaded         bool
	began          bool
}

// NewOllamaSession creates a session against an Ollama server.
func NewOllamaSession(cfg Config) (*OllamaSession, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("model name is required")
	}
	return &OllamaSession{
		client:         &http.Client{},
		url:            cfg.BaseURL,
		model:          cfg.Model,
		maxPromptBytes: cfg.MaxPromptBytes,
	}, nil
}

// LoadContext stages the rendered prompt for generation.
func (s *OllamaSession) LoadContext(ctx context.Context, prompt string) error {
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

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
	TopK        int     `json:"top_k"`
	Seed        int     `json:"seed,omitempty"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// BeginGeneration starts a streaming generation over the loaded context.
func (s *OllamaSession) BeginGeneration(ctx context.Context, params SamplingParams, maxTokens int) (TextStream, error) {
	if !s.loaded {
		return nil, &SessionError{Op: "begin_generation", Err: errors.New("no context loaded")}
	}
	if s.began {
		return nil, &SessionError{Op: "begin_generation", Err: errSessionConsumed}
	}

	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  s.model,
		Prompt: s.prompt,
		Raw:    true,
		Stream: true,
		Options: ollamaOptions{
			Temperature: params.Temperature,
			TopP:        params.TopP,
			TopK:        params.TopK,
			Seed:        params.Seed,
			NumPredict:  maxTokens,
		},
	})
	if err != nil {
		return nil, &SessionError{Op: "begin_generation", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &SessionError{Op: "begin_generation", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SessionError{Op: "begin_generation", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &SessionError{
			Op:  "begin_generation",
			Err: fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg),
		}
	}

	s.began = true
	return &ollamaStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

type ollamaStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	finished bool
}

// Recv returns the next generated fragment; io.EOF ends the stream.
func (s *ollamaStream) Recv(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.finished {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk ollamaGenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return "", errors.New(chunk.Error)
		}
		if chunk.Done {
			s.finished = true
			if chunk.Response != "" {
				return chunk.Response, nil
			}
			return "", io.EOF
		}
		return chunk.Response, nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	s.finished = true
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}

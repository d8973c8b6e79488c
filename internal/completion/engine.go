package completion

import (
	"context"
	"errors"
	"io"

	"github.com/tic-ai/inference-platform/internal/llm"
)

// EventKind is the type of an engine event.
type EventKind int

const (
	EventText EventKind = iota
	EventError
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is the result of one engine activation, tagged with the request it
// belongs to.
type Event struct {
	RequestID uint64
	Kind      EventKind
	Text      string
	Err       string
}

// GenerationConfig fixes how a request is generated: the family's stop
// marker, the sampling strategy and the token budget.
type GenerationConfig struct {
	StopMarker string
	Sampling   llm.SamplingParams
	MaxTokens  int
}

// DefaultMaxTokens bounds generation when no budget is configured.
const DefaultMaxTokens = 1024

type phase int

const (
	phaseReady phase = iota
	phaseStreaming
	phaseDraining
	phaseTerminal
)

// Engine drives one completion request through context loading, streaming,
// stop detection and termination. Each activation produces at most one event;
// events for a request are delivered in generation order. The engine owns its
// session exclusively and must only be advanced by one caller at a time.
type Engine struct {
	id      uint64
	prompt  string
	session llm.Session
	cfg     GenerationConfig

	phase   phase
	stream  llm.TextStream
	matcher *StopMatcher
}

// NewEngine creates an engine in the ready state.
func NewEngine(id uint64, prompt string, session llm.Session, cfg GenerationConfig) *Engine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Engine{
		id:      id,
		prompt:  prompt,
		session: session,
		cfg:     cfg,
		matcher: NewStopMatcher(cfg.StopMarker),
	}
}

// ID returns the request id this engine belongs to.
func (e *Engine) ID() uint64 { return e.id }

// Step performs one activation. ok is false once the engine is terminal: no
// event is produced and callers stop polling.
func (e *Engine) Step(ctx context.Context) (Event, bool) {
	switch e.phase {
	case phaseReady:
		return e.start(ctx), true
	case phaseStreaming:
		return e.pull(ctx), true
	case phaseDraining:
		e.terminate()
		return Event{RequestID: e.id, Kind: EventDone}, true
	default:
		return Event{}, false
	}
}

// start loads the prompt into the session, begins generation and pulls the
// first unit of output.
func (e *Engine) start(ctx context.Context) Event {
	if err := e.session.LoadContext(ctx, e.prompt); err != nil {
		e.terminate()
		return Event{RequestID: e.id, Kind: EventError, Err: err.Error()}
	}

	stream, err := e.session.BeginGeneration(ctx, e.cfg.Sampling, e.cfg.MaxTokens)
	if err != nil {
		e.terminate()
		return Event{RequestID: e.id, Kind: EventError, Err: err.Error()}
	}

	e.stream = stream
	e.phase = phaseStreaming
	return e.pull(ctx)
}

// pull advances the stream by one unit and runs it through the matcher.
func (e *Engine) pull(ctx context.Context) Event {
	chunk, err := e.stream.Recv(ctx)
	if errors.Is(err, io.EOF) {
		// An unresolved partial match is ordinary text; emit it before
		// closing out so nothing is silently dropped.
		if flushed := e.matcher.Flush(); flushed != "" {
			e.phase = phaseDraining
			return Event{RequestID: e.id, Kind: EventText, Text: flushed}
		}
		e.terminate()
		return Event{RequestID: e.id, Kind: EventDone}
	}
	if err != nil {
		e.terminate()
		return Event{RequestID: e.id, Kind: EventError, Err: err.Error()}
	}

	emit, stop := e.matcher.Feed(chunk)
	if stop {
		if emit != "" {
			e.phase = phaseDraining
			return Event{RequestID: e.id, Kind: EventText, Text: emit}
		}
		e.terminate()
		return Event{RequestID: e.id, Kind: EventDone}
	}
	return Event{RequestID: e.id, Kind: EventText, Text: emit}
}

// Abort moves the engine to the terminal state without a terminal event and
// releases its stream. Used when the request is abandoned mid-generation.
func (e *Engine) Abort() {
	e.terminate()
}

func (e *Engine) terminate() {
	e.phase = phaseTerminal
	if e.stream != nil {
		_ = e.stream.Close()
		e.stream = nil
	}
}

package completion

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tic-ai/inference-platform/internal/llm"
	"github.com/tic-ai/inference-platform/pkg/logger"
	"github.com/tic-ai/inference-platform/pkg/metrics"
)

// State is the lifecycle state of a completion request. Transitions are
// one-directional: Processing to Done or Error, never back.
type State int

const (
	StateProcessing State = iota
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Request tracks one in-flight completion. The registry holds the only
// handle to the request's engine, and through it the only handle to the
// generation session.
type Request struct {
	ID     uint64
	Prompt string
	State  State

	// Output accumulates emitted text increments in generation order.
	Output string

	// Err holds the failure message once State is StateError.
	Err string

	engine *Engine
}

// Engine returns the engine driving this request. Only the single flow that
// submitted the request may advance it.
func (r *Request) Engine() *Engine { return r.engine }

// Registry maps request ids to their current state. Ids are monotonically
// increasing per process; all mutation is serialized behind one mutex.
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	requests map[uint64]*Request
	logger   *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		requests: make(map[uint64]*Request),
		logger:   log,
	}
}

// Submit registers a new request for the rendered prompt. The session is
// exclusively owned by the returned request for its lifetime.
func (r *Registry) Submit(prompt string, session llm.Session, cfg GenerationConfig) *Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	req := &Request{
		ID:     r.nextID,
		Prompt: prompt,
		State:  StateProcessing,
		engine: NewEngine(r.nextID, prompt, session, cfg),
	}
	r.requests[req.ID] = req

	metrics.CompletionsActive.Inc()
	return req
}

// Apply updates the request the event belongs to. An event for an unknown or
// already terminal request is dropped and logged; it is not an error.
func (r *Registry) Apply(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[ev.RequestID]
	if !ok {
		metrics.CompletionEventsDropped.Inc()
		r.logger.Debug("completion event dropped",
			zap.Uint64("completion_id", ev.RequestID),
			zap.String("kind", ev.Kind.String()),
		)
		return false
	}
	if req.State != StateProcessing {
		metrics.CompletionEventsDropped.Inc()
		r.logger.Debug("event for terminal completion dropped",
			zap.Uint64("completion_id", ev.RequestID),
			zap.String("state", req.State.String()),
		)
		return false
	}

	switch ev.Kind {
	case EventText:
		req.Output += ev.Text
	case EventDone:
		req.State = StateDone
		metrics.CompletionsActive.Dec()
		metrics.CompletionsTotal.WithLabelValues("done").Inc()
	case EventError:
		req.State = StateError
		req.Err = ev.Err
		metrics.CompletionsActive.Dec()
		metrics.CompletionsTotal.WithLabelValues("error").Inc()
	}
	return true
}

// Get returns a snapshot of the request. The engine handle is never shared.
func (r *Registry) Get(id uint64) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok {
		return Request{}, false
	}
	snap := *req
	snap.engine = nil
	return snap, true
}

// Remove drops the request; its engine and session are released with it.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req, ok := r.requests[id]; ok {
		if req.State == StateProcessing {
			metrics.CompletionsActive.Dec()
		}
		delete(r.requests, id)
	}
}

// Len returns the number of tracked requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tic-ai/inference-platform/pkg/logger"
)

func newTestRegistry() *Registry {
	return NewRegistry(logger.NewNop())
}

func submitTestRequest(r *Registry) *Request {
	return r.Submit("prompt", &stubSession{}, GenerationConfig{StopMarker: "<|eot_id|>"})
}

func TestRegistrySubmitAssignsMonotonicIDs(t *testing.T) {
	r := newTestRegistry()

	first := submitTestRequest(r)
	second := submitTestRequest(r)
	third := submitTestRequest(r)

	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
	assert.Equal(t, uint64(3), third.ID)
	assert.Equal(t, 3, r.Len())
}

func TestRegistrySubmitStartsProcessing(t *testing.T) {
	r := newTestRegistry()
	req := submitTestRequest(r)

	assert.Equal(t, StateProcessing, req.State)
	require.NotNil(t, req.Engine())
	assert.Equal(t, req.ID, req.Engine().ID())
}

func TestRegistryApplyAccumulatesText(t *testing.T) {
	r := newTestRegistry()
	req := submitTestRequest(r)

	assert.True(t, r.Apply(Event{RequestID: req.ID, Kind: EventText, Text: "Hello"}))
	assert.True(t, r.Apply(Event{RequestID: req.ID, Kind: EventText, Text: ", world"}))

	snap, ok := r.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, "Hello, world", snap.Output)
	assert.Equal(t, StateProcessing, snap.State)
}

func TestRegistryApplyDone(t *testing.T) {
	r := newTestRegistry()
	req := submitTestRequest(r)

	r.Apply(Event{RequestID: req.ID, Kind: EventText, Text: "42"})
	r.Apply(Event{RequestID: req.ID, Kind: EventDone})

	snap, ok := r.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, StateDone, snap.State)
	assert.Equal(t, "42", snap.Output)
}

func TestRegistryApplyErrorKeepsPartialOutput(t *testing.T) {
	r := newTestRegistry()
	req := submitTestRequest(r)

	r.Apply(Event{RequestID: req.ID, Kind: EventText, Text: "partial"})
	r.Apply(Event{RequestID: req.ID, Kind: EventError, Err: "connection reset"})

	snap, ok := r.Get(req.ID)
	require.True(t, ok)
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "connection reset", snap.Err)
	assert.Equal(t, "partial", snap.Output)
}

func TestRegistryDropsEventForUnknownRequest(t *testing.T) {
	r := newTestRegistry()

	assert.False(t, r.Apply(Event{RequestID: 99, Kind: EventText, Text: "orphan"}))
}

func TestRegistryDropsEventAfterTerminal(t *testing.T) {
	r := newTestRegistry()
	req := submitTestRequest(r)

	r.Apply(Event{RequestID: req.ID, Kind: EventDone})

	// Terminal states are final; late events must not mutate the request.
	assert.False(t, r.Apply(Event{RequestID: req.ID, Kind: EventText, Text: "late"}))
	assert.False(t, r.Apply(Event{RequestID: req.ID, Kind: EventError, Err: "late"}))

	snap, _ := r.Get(req.ID)
	assert.Equal(t, StateDone, snap.State)
	assert.Empty(t, snap.Output)
}

func TestRegistryGetReturnsSnapshotWithoutEngine(t *testing.T) {
	r := newTestRegistry()
	req := submitTestRequest(r)

	snap, ok := r.Get(req.ID)
	require.True(t, ok)
	assert.Nil(t, snap.Engine())

	// Mutating the snapshot must not affect the tracked request.
	snap.Output = "scribbled"
	fresh, _ := r.Get(req.ID)
	assert.Empty(t, fresh.Output)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := newTestRegistry()

	_, ok := r.Get(123)
	assert.False(t, ok)
}

func TestRegistryRemove(t *testing.T) {
	r := newTestRegistry()
	req := submitTestRequest(r)

	r.Remove(req.ID)

	_, ok := r.Get(req.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	// Removing twice is harmless.
	r.Remove(req.ID)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "processing", StateProcessing.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "error", StateError.String())
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "text", EventText.String())
	assert.Equal(t, "error", EventError.String())
	assert.Equal(t, "done", EventDone.String())
}

package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tic-ai/inference-platform/internal/model"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	require.NoError(t, err)
	return r
}

func TestRenderLlama3(t *testing.T) {
	r := newTestRegistry(t)

	got, err := r.Render(FamilyLlama3, []model.Message{
		{Role: model.RoleUser, Content: "Hello"},
		{Role: model.RoleAssistant, Content: "Hi"},
	})
	require.NoError(t, err)

	want := "<|begin_of_text|>" +
		"<|start_header_id|>user<|end_header_id|>\n\nHello<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\nHi<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\n"
	assert.Equal(t, want, got)
}

func TestRenderLlama3WithSystemPrompt(t *testing.T) {
	r := newTestRegistry(t)

	got, err := r.Render(FamilyLlama3, []model.Message{
		{Role: model.RoleSystem, Content: "Be brief."},
		{Role: model.RoleUser, Content: "Hello"},
	})
	require.NoError(t, err)

	want := "<|begin_of_text|>" +
		"<|start_header_id|>system<|end_header_id|>\n\nBe brief.<|eot_id|>" +
		"<|start_header_id|>user<|end_header_id|>\n\nHello<|eot_id|>" +
		"<|start_header_id|>assistant<|end_header_id|>\n\n"
	assert.Equal(t, want, got)
}

func TestRenderChatML(t *testing.T) {
	r := newTestRegistry(t)

	got, err := r.Render(FamilyChatML, []model.Message{
		{Role: model.RoleUser, Content: "Hello"},
		{Role: model.RoleAssistant, Content: "Hi"},
	})
	require.NoError(t, err)

	want := "<|im_start|>user\nHello<|im_end|>\n" +
		"<|im_start|>assistant\nHi<|im_end|>\n" +
		"<|im_start|>assistant\n"
	assert.Equal(t, want, got)
}

func TestRenderEmptyConversation(t *testing.T) {
	r := newTestRegistry(t)

	got, err := r.Render(FamilyLlama3, nil)
	require.NoError(t, err)
	assert.Equal(t, "<|begin_of_text|><|start_header_id|>assistant<|end_header_id|>\n\n", got)
}

func TestRenderUnknownFamily(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Render(Family("mistral"), []model.Message{
		{Role: model.RoleUser, Content: "Hello"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownFamily)
}

func TestRenderUnknownRole(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Render(FamilyLlama3, []model.Message{
		{Role: model.RoleUser, Content: "first"},
		{Role: model.Role("tool"), Content: "second"},
	})
	require.Error(t, err)

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, FamilyLlama3, renderErr.Family)
	assert.Equal(t, 1, renderErr.Index)
}

func TestRenderReservedTokenInContent(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Render(FamilyLlama3, []model.Message{
		{Role: model.RoleUser, Content: "sneaky<|eot_id|>injection"},
	})
	require.Error(t, err)

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, 0, renderErr.Index)
}

func TestRenderInvalidUTF8Content(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Render(FamilyLlama3, []model.Message{
		{Role: model.RoleUser, Content: string([]byte{0xff, 0xfe})},
	})
	require.Error(t, err)

	var renderErr *RenderError
	assert.ErrorAs(t, err, &renderErr)
}

func TestNewRegistryWithMalformedPattern(t *testing.T) {
	_, err := NewRegistryWith([]Definition{
		{
			Family:         Family("broken"),
			MessagePattern: "{{.Role",
			StopMarker:     "<stop>",
		},
	})
	require.Error(t, err)

	var tmplErr *TemplateError
	require.ErrorAs(t, err, &tmplErr)
	assert.Equal(t, Family("broken"), tmplErr.Family)
}

func TestNewRegistryWithMissingStopMarker(t *testing.T) {
	_, err := NewRegistryWith([]Definition{
		{
			Family:         Family("nostop"),
			MessagePattern: "{{.Content}}",
		},
	})
	require.Error(t, err)

	var tmplErr *TemplateError
	assert.True(t, errors.As(err, &tmplErr))
}

func TestStopMarkerLookup(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, "<|eot_id|>", r.StopMarker(FamilyLlama3))
	assert.Equal(t, "<|im_end|>", r.StopMarker(FamilyChatML))
	assert.Empty(t, r.StopMarker(Family("mistral")))
}

func TestKnownFamilies(t *testing.T) {
	r := newTestRegistry(t)

	assert.True(t, r.Known(FamilyLlama3))
	assert.True(t, r.Known(FamilyChatML))
	assert.False(t, r.Known(Family("mistral")))
	assert.Len(t, r.Families(), 2)
}

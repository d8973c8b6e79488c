package template

import (
	"fmt"
	"strings"
	texttemplate "text/template"
	"unicode/utf8"

	"github.com/tic-ai/inference-platform/internal/model"
)

// Registry holds the compiled templates for all supported families. It is
// immutable after construction.
type Registry struct {
	families map[Family]*compiled
}

type compiled struct {
	def Definition
	msg *texttemplate.Template
}

// messageData is the per-message substitution input. Role is always one of
// the fixed lowercase tokens regardless of the internal representation.
type messageData struct {
	Role    string
	Content string
}

// NewRegistry compiles the built-in definitions. A malformed pattern fails
// construction; no half-initialized registry is returned.
func NewRegistry() (*Registry, error) {
	return NewRegistryWith(BuiltinDefinitions())
}

// NewRegistryWith compiles the given definitions.
func NewRegistryWith(defs []Definition) (*Registry, error) {
	r := &Registry{families: make(map[Family]*compiled, len(defs))}
	for _, def := range defs {
		tmpl, err := texttemplate.New(string(def.Family)).Parse(def.MessagePattern)
		if err != nil {
			return nil, &TemplateError{Family: def.Family, Err: err}
		}
		if def.StopMarker == "" {
			return nil, &TemplateError{Family: def.Family, Err: fmt.Errorf("missing stop marker")}
		}
		r.families[def.Family] = &compiled{def: def, msg: tmpl}
	}
	return r, nil
}

// Families returns the registered families.
func (r *Registry) Families() []Family {
	out := make([]Family, 0, len(r.families))
	for f := range r.families {
		out = append(out, f)
	}
	return out
}

// Known reports whether the family is registered.
func (r *Registry) Known(f Family) bool {
	_, ok := r.families[f]
	return ok
}

// StopMarker returns the stop marker for a registered family. Lookup is total
// over the declared families; an empty string means the family is unknown.
func (r *Registry) StopMarker(f Family) string {
	if c, ok := r.families[f]; ok {
		return c.def.StopMarker
	}
	return ""
}

// Render serializes the conversation into the prompt text for the family:
// the leading marker, each message substituted into the per-message pattern
// in order, then the generation prompt.
func (r *Registry) Render(f Family, messages []model.Message) (string, error) {
	c, ok := r.families[f]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, f)
	}

	var b strings.Builder
	b.WriteString(c.def.LeadingMarker)

	for i, msg := range messages {
		role, err := roleToken(msg.Role)
		if err != nil {
			return "", &RenderError{Family: f, Index: i, Err: err}
		}
		if err := validateContent(c.def, msg.Content); err != nil {
			return "", &RenderError{Family: f, Index: i, Err: err}
		}
		if err := c.msg.Execute(&b, messageData{Role: role, Content: msg.Content}); err != nil {
			return "", &RenderError{Family: f, Index: i, Err: err}
		}
	}

	b.WriteString(c.def.GenerationPrompt)
	return b.String(), nil
}

func roleToken(r model.Role) (string, error) {
	switch r {
	case model.RoleSystem:
		return "system", nil
	case model.RoleUser:
		return "user", nil
	case model.RoleAssistant:
		return "assistant", nil
	}
	return "", fmt.Errorf("unknown role %q", r)
}

func validateContent(def Definition, content string) error {
	if !utf8.ValidString(content) {
		return fmt.Errorf("content is not valid UTF-8")
	}
	for _, token := range def.Reserved {
		if strings.Contains(content, token) {
			return fmt.Errorf("content contains reserved token %q", token)
		}
	}
	return nil
}

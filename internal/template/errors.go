package template

import (
	"errors"
	"fmt"
)

// ErrUnknownFamily is returned when a family has no registered definition.
var ErrUnknownFamily = errors.New("unknown template family")

// TemplateError reports a malformed template definition. It is raised at
// registry construction and is fatal to startup.
type TemplateError struct {
	Family Family
	Err    error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Family, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// RenderError reports a conversation that cannot be rendered. It is
// recoverable: callers degrade to the raw last user turn.
type RenderError struct {
	Family Family
	Index  int
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %q message %d: %v", e.Family, e.Index, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Package template renders role-tagged conversations into the literal prompt
// text a model family expects, control tokens included.
package template

// Family identifies a supported model family. Each family is bound to one
// Definition registered at startup.
type Family string

const (
	FamilyLlama3 Family = "llama3"
	FamilyChatML Family = "chatml"
)

// DefaultFamily is used when a conversation does not select one.
const DefaultFamily = FamilyLlama3

// Definition is the formatting rule for one model family. Adding a family is
// a new record here, not new control flow.
type Definition struct {
	Family Family

	// MessagePattern is a text/template source applied once per message
	// with {{.Role}} and {{.Content}}.
	MessagePattern string

	// LeadingMarker is emitted once at the very start of the prompt.
	LeadingMarker string

	// GenerationPrompt is appended once after the last message to cue the
	// model into the assistant turn.
	GenerationPrompt string

	// StopMarker is the control string that terminates generation for this
	// family.
	StopMarker string

	// Reserved lists control tokens that must not appear inside message
	// content.
	Reserved []string
}

// BuiltinDefinitions returns the definitions bundled with the binary.
func BuiltinDefinitions() []Definition {
	return []Definition{
		{
			Family:           FamilyLlama3,
			MessagePattern:   "<|start_header_id|>{{.Role}}<|end_header_id|>\n\n{{.Content}}<|eot_id|>",
			LeadingMarker:    "<|begin_of_text|>",
			GenerationPrompt: "<|start_header_id|>assistant<|end_header_id|>\n\n",
			StopMarker:       "<|eot_id|>",
			Reserved: []string{
				"<|begin_of_text|>",
				"<|start_header_id|>",
				"<|end_header_id|>",
				"<|eot_id|>",
			},
		},
		{
			Family:           FamilyChatML,
			MessagePattern:   "<|im_start|>{{.Role}}\n{{.Content}}<|im_end|>\n",
			LeadingMarker:    "",
			GenerationPrompt: "<|im_start|>assistant\n",
			StopMarker:       "<|im_end|>",
			Reserved: []string{
				"<|im_start|>",
				"<|im_end|>",
			},
		},
	}
}

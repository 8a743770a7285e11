package llm

import "encoding/json"

// ToolDefinition describes a function tool offered to the model.
// The wire format follows the OpenAI chat completions tools schema.
type ToolDefinition struct {
	// Name is the function name the model calls.
	Name string `json:"name"`

	// Description tells the model when to use the function.
	Description string `json:"description,omitempty"`

	// Parameters is a JSON Schema object describing the arguments.
	Parameters json.RawMessage `json:"parameters"`
}

// ToolCall is a structured function invocation returned by the model.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string `json:"id,omitempty"`

	// Name is the function the model chose to call.
	Name string `json:"name"`

	// Arguments is the raw JSON argument object produced by the model.
	// Parsing into a typed result happens at the caller's boundary.
	Arguments json.RawMessage `json:"arguments"`
}

// ForcedToolChoice builds the tool_choice value that forces the model to
// call the named function rather than reply with free text.
func ForcedToolChoice(name string) string {
	return name
}

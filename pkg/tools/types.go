package tools

import "context"

// Tool is the contract every tool exposed to the LLM implements.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ToolResult carries a tool's outcome. ForLLM is what the model sees (for
// gateway tools, the serialized response envelope); ForUser is an optional
// human-facing rendering.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	return r
}

// ToolToSchema renders a tool definition in the function-calling schema shape
// LLM providers expect.
func ToolToSchema(t Tool) map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Parameters(),
		},
	}
}

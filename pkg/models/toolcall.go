package models

import (
	"encoding/json"
	"fmt"
)

// ToolCall is a parsed tool invocation ready for execution.
//
// Structured calls keep the id the model assigned; markup calls get a
// synthesized one. XMLTagName is set only when the call originated from an
// inline markup block.
type ToolCall struct {
	ID           string         `json:"id"`
	FunctionName string         `json:"function_name"`
	XMLTagName   string         `json:"xml_tag_name,omitempty"`
	Arguments    map[string]any `json:"arguments"`
}

// Native converts the call to the wire shape persisted on assistant messages
// and sent back to the model.
func (c ToolCall) Native() NativeToolCall {
	args, err := json.Marshal(c.Arguments)
	if err != nil {
		args = []byte("{}")
	}
	return NativeToolCall{
		ID:   c.ID,
		Type: "function",
		Function: FunctionCall{
			Name:      c.FunctionName,
			Arguments: string(args),
		},
	}
}

// NativeToolCall is the model-native tool call shape carried on assistant
// messages.
type NativeToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the target function and carries its JSON-encoded
// arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallDelta is one streamed fragment of a structured tool call. Fragments
// sharing an Index belong to the same call; id and name arrive once while
// arguments accumulate across fragments.
type ToolCallDelta struct {
	Index    int           `json:"index"`
	ID       string        `json:"id,omitempty"`
	Type     string        `json:"type,omitempty"`
	Function FunctionDelta `json:"function"`
}

// FunctionDelta carries the partial function fields of a tool call fragment.
type FunctionDelta struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolResult is the outcome of one tool execution attempt. Every attempt
// produces exactly one result; failures are results, not errors.
type ToolResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// String renders the result the way it is embedded in persisted markup
// result messages.
func (r ToolResult) String() string {
	return fmt.Sprintf("ToolResult(success=%t, output=%s)", r.Success, r.Output)
}

// FormatToolResult renders a result the way observers and the thread record
// see it: markup-origin results wrapped in their tag, structured results
// labeled with the function name.
func FormatToolResult(call ToolCall, result ToolResult) string {
	if call.XMLTagName != "" {
		return fmt.Sprintf("<%s> %s </%s>", call.XMLTagName, result, call.XMLTagName)
	}
	return fmt.Sprintf("Result for %s: %s", call.FunctionName, result)
}

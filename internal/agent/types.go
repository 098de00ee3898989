// Package agent implements the execution core of the runtime: the response
// processors that drive a model completion stream, the parsers that extract
// tool invocations from it in both supported formats, and the engine that
// executes those invocations.
package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/strandlabs/strand/pkg/models"
)

// LLMProvider defines the interface for language model backends.
//
// Implementations handle the specifics of communicating with different LLM
// APIs (OpenAI, Anthropic, etc.) while presenting a unified streaming
// interface to the processors. Implementations must be safe for concurrent
// use; multiple goroutines may call Complete simultaneously for different
// requests.
type LLMProvider interface {
	// Complete sends a request and returns a streaming response. The
	// returned channel is closed when the stream ends. Structured tool
	// calls are forwarded as raw indexed deltas; reassembly is the
	// processor's job.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// SupportsTools reports whether the provider accepts tool definitions.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model selects the model; empty uses the provider default.
	Model string `json:"model"`

	// System sets the assistant's behavior, handled separately from
	// messages by most LLM APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools defines the functions the model may request, in function form.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the response length; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature adjusts sampling when non-nil.
	Temperature *float32 `json:"temperature,omitempty"`
}

// CompletionChunk is a single chunk of a streaming LLM response. A chunk may
// carry partial text, raw structured tool-call fragments, a finish reason, or
// a terminal error.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCallDeltas contains raw structured tool-call fragments exactly
	// as the model streamed them, indexed so fragments of one call can be
	// reassembled downstream.
	ToolCallDeltas []models.ToolCallDelta `json:"tool_call_deltas,omitempty"`

	// FinishReason is set on the chunk that closes the response
	// ("stop", "tool_calls", "length", ...).
	FinishReason string `json:"finish_reason,omitempty"`

	// Error terminates the stream when set.
	Error error `json:"-"`
}

// CompletionResponse is a whole LLM response, used on the non-streaming
// path. Structured tool calls arrive fully assembled in native shape.
type CompletionResponse struct {
	Content      string                  `json:"content,omitempty"`
	ToolCalls    []models.NativeToolCall `json:"tool_calls,omitempty"`
	FinishReason string                  `json:"finish_reason,omitempty"`
}

// ToolDefinition is the function-form declaration of a tool, sent to
// providers that support structured tool calling.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Tool is an executable capability with a function-form schema and,
// optionally, an inline markup form.
type Tool interface {
	// Name returns the canonical function name.
	Name() string

	// Description returns what the tool does, for the model's benefit.
	Description() string

	// FunctionSchema returns the JSON Schema for the tool's arguments.
	FunctionSchema() json.RawMessage

	// MarkupSchema returns the inline markup binding, or nil when the
	// tool has no markup form.
	MarkupSchema() *MarkupSchema

	// Execute runs the tool with JSON-encoded arguments.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

// Markup mapping node types.
const (
	NodeAttribute = "attribute"
	NodeElement   = "element"
	NodeText      = "text"
	NodeContent   = "content"
)

// MarkupMapping binds one tool parameter to a location in the markup block.
type MarkupMapping struct {
	ParamName string `json:"param_name"`
	NodeType  string `json:"node_type"`
	Path      string `json:"path,omitempty"`
	Required  bool   `json:"required"`
}

// MarkupSchema describes the inline markup form of a tool: the tag the model
// writes and how its attributes, nested elements, and body map to parameters.
type MarkupSchema struct {
	Tag      string          `json:"tag"`
	Mappings []MarkupMapping `json:"mappings"`
	Example  string          `json:"example,omitempty"`
}

// Serialize renders arguments back into a markup block, the inverse of
// parsing. Attribute values are entity-escaped; the body mapping, when
// present, becomes the tag content.
func (s *MarkupSchema) Serialize(args map[string]any) (string, error) {
	open := "<" + s.Tag
	body := ""
	for _, m := range s.Mappings {
		val, ok := args[m.ParamName]
		if !ok {
			if m.Required {
				return "", fmt.Errorf("missing required parameter %q", m.ParamName)
			}
			continue
		}
		text := fmt.Sprintf("%v", val)
		switch m.NodeType {
		case NodeAttribute:
			open += fmt.Sprintf(` %s="%s"`, m.ParamName, escapeEntities(text))
		case NodeElement:
			body += fmt.Sprintf("<%s>%s</%s>", m.ParamName, text, m.ParamName)
		case NodeText, NodeContent:
			body += text
		default:
			return "", fmt.Errorf("unknown node type %q", m.NodeType)
		}
	}
	return open + ">" + body + "</" + s.Tag + ">", nil
}

// Execution strategies for a batch of tool calls.
type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "sequential"
	StrategyParallel   ExecutionStrategy = "parallel"
)

// Placement of markup-origin tool results in the thread.
type ResultPlacement string

const (
	PlacementUserMessage      ResultPlacement = "user_message"
	PlacementAssistantMessage ResultPlacement = "assistant_message"

	// PlacementInlineEdit is reserved; it currently behaves like
	// PlacementAssistantMessage.
	PlacementInlineEdit ResultPlacement = "inline_edit"
)

// ProcessorConfig controls how a response processor detects and executes
// tool calls.
type ProcessorConfig struct {
	// MarkupToolCalling enables parsing of inline markup tool blocks.
	MarkupToolCalling bool

	// StructuredToolCalling enables reassembly of streamed tool-call
	// fragments.
	StructuredToolCalling bool

	// ExecuteTools enables execution of parsed calls. When false, calls
	// are detected and persisted but never run.
	ExecuteTools bool

	// ExecuteOnStream dispatches each call as soon as it is complete
	// instead of deferring execution to the end of the stream.
	ExecuteOnStream bool

	// ToolExecutionStrategy orders deferred execution.
	ToolExecutionStrategy ExecutionStrategy

	// MarkupResultPlacement selects the role of persisted markup results.
	MarkupResultPlacement ResultPlacement

	// MaxMarkupToolCalls caps markup calls per response; 0 means no limit.
	MaxMarkupToolCalls int
}

// DefaultProcessorConfig mirrors the runtime defaults: markup calling on,
// structured calling off, deferred sequential execution, assistant-message
// placement, no cap.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		MarkupToolCalling:     true,
		StructuredToolCalling: false,
		ExecuteTools:          true,
		ExecuteOnStream:       false,
		ToolExecutionStrategy: StrategySequential,
		MarkupResultPlacement: PlacementAssistantMessage,
		MaxMarkupToolCalls:    0,
	}
}

// Validate rejects configurations that can never execute anything.
func (c ProcessorConfig) Validate() error {
	if c.ExecuteTools && !c.MarkupToolCalling && !c.StructuredToolCalling {
		return fmt.Errorf("execute_tools requires at least one tool calling format enabled")
	}
	if c.MaxMarkupToolCalls < 0 {
		return fmt.Errorf("max_markup_tool_calls must be >= 0")
	}
	return nil
}

func sanitizeProcessorConfig(c ProcessorConfig) ProcessorConfig {
	if c.ToolExecutionStrategy == "" {
		c.ToolExecutionStrategy = StrategySequential
	}
	if c.MarkupResultPlacement == "" || c.MarkupResultPlacement == PlacementInlineEdit {
		c.MarkupResultPlacement = PlacementAssistantMessage
	}
	if c.MaxMarkupToolCalls < 0 {
		c.MaxMarkupToolCalls = 0
	}
	return c
}

// MessageStore is the slice of the thread store the processors need:
// appending assistant and tool messages in order.
type MessageStore interface {
	AppendMessage(ctx context.Context, threadID string, msg models.Message) (models.Message, error)
}

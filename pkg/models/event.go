package models

// EventType identifies the kind of event emitted by a response processor or
// run supervisor.
type EventType string

const (
	// EventTypeContent carries a text delta, or a structured tool-call
	// fragment passthrough when ToolCall is set.
	EventTypeContent EventType = "content"

	// EventTypeToolStatus reports a tool execution lifecycle change.
	EventTypeToolStatus EventType = "tool_status"

	// EventTypeToolResult carries the stringified outcome of one execution.
	EventTypeToolResult EventType = "tool_result"

	// EventTypeFinish closes a processed response with its finish reason.
	EventTypeFinish EventType = "finish"

	// EventTypeError reports a processor-level failure.
	EventTypeError EventType = "error"

	// EventTypeStatus reports a run status change on the stream.
	EventTypeStatus EventType = "status"
)

// Tool execution statuses carried by tool_status events.
const (
	ToolStatusStarted   = "started"
	ToolStatusCompleted = "completed"
	ToolStatusFailed    = "failed"
	ToolStatusError     = "error"
)

// FinishReasonToolLimit is reported when the per-response markup tool-call
// cap cut the stream short.
const FinishReasonToolLimit = "markup_tool_limit_reached"

// Event is the tagged union flowing through run event logs and SSE streams.
// Field presence follows Type; ToolIndex is a pointer so index 0 survives
// serialization while non-tool events omit it.
type Event struct {
	Type         EventType      `json:"type"`
	Content      string         `json:"content,omitempty"`
	ToolCall     *ToolCallDelta `json:"tool_call,omitempty"`
	Status       string         `json:"status,omitempty"`
	FunctionName string         `json:"function_name,omitempty"`
	XMLTagName   string         `json:"xml_tag_name,omitempty"`
	Message      string         `json:"message,omitempty"`
	Result       string         `json:"result,omitempty"`
	ToolIndex    *int           `json:"tool_index,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// NewContentEvent builds a text delta event.
func NewContentEvent(delta string) *Event {
	return &Event{Type: EventTypeContent, Content: delta}
}

// NewToolCallFragmentEvent builds a passthrough event for a raw structured
// tool-call fragment.
func NewToolCallFragmentEvent(delta ToolCallDelta) *Event {
	return &Event{Type: EventTypeContent, ToolCall: &delta}
}

// NewToolStatusEvent builds a tool lifecycle event for the call at the given
// tool index.
func NewToolStatusEvent(status string, call ToolCall, toolIndex int, message string) *Event {
	idx := toolIndex
	return &Event{
		Type:         EventTypeToolStatus,
		Status:       status,
		FunctionName: call.FunctionName,
		XMLTagName:   call.XMLTagName,
		Message:      message,
		ToolIndex:    &idx,
	}
}

// NewToolResultEvent builds a result event for the call at the given tool
// index.
func NewToolResultEvent(call ToolCall, result ToolResult, toolIndex int) *Event {
	idx := toolIndex
	return &Event{
		Type:         EventTypeToolResult,
		FunctionName: call.FunctionName,
		XMLTagName:   call.XMLTagName,
		Result:       FormatToolResult(call, result),
		ToolIndex:    &idx,
	}
}

// NewFinishEvent closes a response with the recorded finish reason.
func NewFinishEvent(reason string) *Event {
	return &Event{Type: EventTypeFinish, FinishReason: reason}
}

// NewErrorEvent reports a processor or run failure.
func NewErrorEvent(message string) *Event {
	return &Event{Type: EventTypeError, Message: message}
}

// NewStatusEvent reports a run status transition on the stream.
func NewStatusEvent(status RunStatus, message string) *Event {
	return &Event{Type: EventTypeStatus, Status: string(status), Message: message}
}

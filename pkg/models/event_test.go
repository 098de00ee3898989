package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEvent_ToolIndexZeroSerialized(t *testing.T) {
	call := ToolCall{FunctionName: "greet", XMLTagName: "greet"}
	ev := NewToolStatusEvent(ToolStatusStarted, call, 0, "Starting execution of greet")

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if !strings.Contains(string(data), `"tool_index":0`) {
		t.Errorf("tool_index 0 dropped: %s", data)
	}
}

func TestEvent_ContentOmitsToolFields(t *testing.T) {
	data, err := json.Marshal(NewContentEvent("hi"))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	for _, field := range []string{"tool_index", "function_name", "tool_call", "finish_reason"} {
		if strings.Contains(string(data), field) {
			t.Errorf("content event leaks %s: %s", field, data)
		}
	}
}

func TestEvent_ToolCallFragmentPassthrough(t *testing.T) {
	delta := ToolCallDelta{
		Index: 2,
		ID:    "call_7",
		Type:  "function",
		Function: FunctionDelta{
			Name:      "search",
			Arguments: `{"q":`,
		},
	}
	ev := NewToolCallFragmentEvent(delta)
	if ev.Type != EventTypeContent {
		t.Fatalf("Type = %q, want content", ev.Type)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	var decoded Event
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.ToolCall == nil || decoded.ToolCall.Index != 2 {
		t.Fatalf("ToolCall = %+v, want index 2", decoded.ToolCall)
	}
	if decoded.ToolCall.Function.Arguments != `{"q":` {
		t.Errorf("Arguments = %q", decoded.ToolCall.Function.Arguments)
	}
}

func TestEvent_Constructors(t *testing.T) {
	finish := NewFinishEvent("stop")
	if finish.Type != EventTypeFinish || finish.FinishReason != "stop" {
		t.Errorf("finish event = %+v", finish)
	}

	errEv := NewErrorEvent("boom")
	if errEv.Type != EventTypeError || errEv.Message != "boom" {
		t.Errorf("error event = %+v", errEv)
	}

	status := NewStatusEvent(RunStatusCompleted, "")
	if status.Type != EventTypeStatus || status.Status != "completed" {
		t.Errorf("status event = %+v", status)
	}

	result := NewToolResultEvent(ToolCall{FunctionName: "f"}, ToolResult{Success: true, Output: "ok"}, 3)
	if result.ToolIndex == nil || *result.ToolIndex != 3 {
		t.Errorf("tool_index = %v, want 3", result.ToolIndex)
	}
	if !strings.Contains(result.Result, "success=true") {
		t.Errorf("Result = %q", result.Result)
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	if RunStatusRunning.Terminal() {
		t.Error("running must not be terminal")
	}
	for _, s := range []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusStopped} {
		if !s.Terminal() {
			t.Errorf("%s must be terminal", s)
		}
	}
}

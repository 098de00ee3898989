package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMessage_MarshalStringContent(t *testing.T) {
	msg := Message{Role: RoleAssistant, Content: "hello"}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if !strings.Contains(string(data), `"content":"hello"`) {
		t.Errorf("content not serialized as string: %s", data)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.Content != "hello" {
		t.Errorf("Content = %q, want %q", decoded.Content, "hello")
	}
	if len(decoded.Parts) != 0 {
		t.Errorf("Parts = %v, want empty", decoded.Parts)
	}
}

func TestMessage_MarshalPartsContent(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Parts: []ContentPart{
			TextPart("look at this"),
			ImagePart("image/png", "aGVsbG8="),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(decoded.Parts) != 2 {
		t.Fatalf("Parts length = %d, want 2", len(decoded.Parts))
	}
	img := decoded.Parts[1]
	if img.Type != ContentPartImageURL || img.ImageURL == nil {
		t.Fatalf("second part = %+v, want image_url part", img)
	}
	if img.ImageURL.URL != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("image URL = %q", img.ImageURL.URL)
	}
	if img.ImageURL.Detail != "high" {
		t.Errorf("image detail = %q, want high", img.ImageURL.Detail)
	}
}

func TestMessage_UnmarshalToolMessage(t *testing.T) {
	raw := `{"role":"tool","tool_call_id":"call_1","name":"greet","content":"done"}`

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if msg.Role != RoleTool {
		t.Errorf("Role = %q, want tool", msg.Role)
	}
	if msg.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want call_1", msg.ToolCallID)
	}
	if msg.Name != "greet" {
		t.Errorf("Name = %q, want greet", msg.Name)
	}
	if msg.Content != "done" {
		t.Errorf("Content = %q, want done", msg.Content)
	}
}

func TestMessage_Text(t *testing.T) {
	plain := Message{Content: "abc"}
	if got := plain.Text(); got != "abc" {
		t.Errorf("Text() = %q, want abc", got)
	}

	multi := Message{Parts: []ContentPart{
		TextPart("a"),
		ImagePart("image/jpeg", "eHg="),
		TextPart("b"),
	}}
	if got := multi.Text(); got != "ab" {
		t.Errorf("Text() = %q, want ab", got)
	}
}

func TestToolCall_Native(t *testing.T) {
	call := ToolCall{
		ID:           "call_9",
		FunctionName: "greet",
		XMLTagName:   "greet",
		Arguments:    map[string]any{"name": "Ada"},
	}

	native := call.Native()
	if native.ID != "call_9" {
		t.Errorf("ID = %q, want call_9", native.ID)
	}
	if native.Type != "function" {
		t.Errorf("Type = %q, want function", native.Type)
	}
	if native.Function.Name != "greet" {
		t.Errorf("Function.Name = %q, want greet", native.Function.Name)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(native.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["name"] != "Ada" {
		t.Errorf("arguments = %v, want name=Ada", args)
	}
}

func TestToolResult_String(t *testing.T) {
	ok := ToolResult{Success: true, Output: "sent"}
	if got := ok.String(); got != "ToolResult(success=true, output=sent)" {
		t.Errorf("String() = %q", got)
	}
	bad := ToolResult{Success: false, Output: "boom"}
	if !strings.Contains(bad.String(), "success=false") {
		t.Errorf("String() = %q, want failure marker", bad.String())
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a thread's ordered transcript.
//
// Content is either a plain string or, when Parts is non-empty, an ordered
// list of content parts (text and inline images). Parts takes precedence
// over Content on the wire. ToolCalls is set only on assistant messages;
// ToolCallID and Name only on tool messages, where ToolCallID must reference
// a call carried by the nearest preceding assistant message.
type Message struct {
	ID         string
	ThreadID   string
	Role       Role
	Content    string
	Parts      []ContentPart
	ToolCalls  []NativeToolCall
	ToolCallID string
	Name       string
	CreatedAt  time.Time
}

type messageWire struct {
	ID         string           `json:"id,omitempty"`
	ThreadID   string           `json:"thread_id,omitempty"`
	Role       Role             `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCalls  []NativeToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
	CreatedAt  *time.Time       `json:"created_at,omitempty"`
}

// MarshalJSON writes content as a string when the message has no parts and
// as an array of parts otherwise.
func (m Message) MarshalJSON() ([]byte, error) {
	wire := messageWire{
		ID:         m.ID,
		ThreadID:   m.ThreadID,
		Role:       m.Role,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	if !m.CreatedAt.IsZero() {
		created := m.CreatedAt
		wire.CreatedAt = &created
	}

	var err error
	if len(m.Parts) > 0 {
		wire.Content, err = json.Marshal(m.Parts)
	} else {
		wire.Content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal message content: %w", err)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON accepts content as either a string or an array of parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.ID = wire.ID
	m.ThreadID = wire.ThreadID
	m.Role = wire.Role
	m.ToolCalls = wire.ToolCalls
	m.ToolCallID = wire.ToolCallID
	m.Name = wire.Name
	if wire.CreatedAt != nil {
		m.CreatedAt = *wire.CreatedAt
	}
	m.Content = ""
	m.Parts = nil

	if len(wire.Content) == 0 {
		return nil
	}
	if err := json.Unmarshal(wire.Content, &m.Content); err == nil {
		return nil
	}
	if err := json.Unmarshal(wire.Content, &m.Parts); err != nil {
		return fmt.Errorf("message content is neither string nor parts: %w", err)
	}
	return nil
}

// Text returns the textual content of the message, concatenating text parts
// when the message is multi-part.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, part := range m.Parts {
		if part.Type == ContentPartText {
			out += part.Text
		}
	}
	return out
}

// Content part types.
const (
	ContentPartText     = "text"
	ContentPartImageURL = "image_url"
)

// ContentPart is one element of a multi-part message content list.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL is an inline image reference, usually a base64 data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: ContentPartText, Text: text}
}

// ImagePart builds an inline image part from raw bytes, encoded as a data URL.
func ImagePart(mimeType, base64Payload string) ContentPart {
	return ContentPart{
		Type: ContentPartImageURL,
		ImageURL: &ImageURL{
			URL:    fmt.Sprintf("data:%s;base64,%s", mimeType, base64Payload),
			Detail: "high",
		},
	}
}

// Thread is an ordered conversation owned by a project.
type Thread struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	UserID    string    `json:"user_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User represents an authenticated user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

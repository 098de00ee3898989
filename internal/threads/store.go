// Package threads persists conversation threads and their ordered message
// transcripts. Three backends share one contract: Postgres for multi-node
// deployments, SQLite for single-node, memory for tests.
package threads

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/strandlabs/strand/pkg/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrNoAssistantMessage is returned by UpdateLastAssistant when the
	// thread has no assistant message to update.
	ErrNoAssistantMessage = errors.New("no assistant message")
)

// ListFilter narrows ListMessages output. Zero value lists the full
// transcript in order.
type ListFilter struct {
	// HideToolMessages drops tool-role messages and strips the tool_calls
	// field from assistant messages.
	HideToolMessages bool

	// OnlyLatestAssistant returns just the most recent assistant message,
	// or an empty list when the thread has none.
	OnlyLatestAssistant bool
}

// Store is the thread store contract. AppendMessage repairs incomplete
// tool-call pairs before persisting a user message, so a transcript handed to
// the model never carries an unanswered call.
type Store interface {
	CreateThread(ctx context.Context, projectID, userID string) (*models.Thread, error)
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	AppendMessage(ctx context.Context, threadID string, msg models.Message) (models.Message, error)
	UpdateLastAssistant(ctx context.Context, threadID string, msg models.Message) error
	ListMessages(ctx context.Context, threadID string, filter ListFilter) ([]models.Message, error)

	// RepairIncompleteToolCalls synthesizes placeholder tool messages for
	// calls the last tool-calling assistant message never got answers to,
	// inserted immediately after that assistant message. Returns the
	// number of placeholders written.
	RepairIncompleteToolCalls(ctx context.Context, threadID string) (int, error)
}

// Attachment is an inline image handed in alongside a user message.
type Attachment struct {
	MimeType string
	Data     []byte
}

// NewUserMessage builds a user message, normalizing image attachments into
// content parts: the text first, then one high-detail data-URL image part per
// attachment.
func NewUserMessage(text string, attachments []Attachment) models.Message {
	msg := models.Message{Role: models.RoleUser, Content: text}
	if len(attachments) == 0 {
		return msg
	}
	msg.Content = ""
	msg.Parts = make([]models.ContentPart, 0, len(attachments)+1)
	msg.Parts = append(msg.Parts, models.TextPart(text))
	for _, att := range attachments {
		payload := base64.StdEncoding.EncodeToString(att.Data)
		msg.Parts = append(msg.Parts, models.ImagePart(att.MimeType, payload))
	}
	return msg
}

// interruptedResult is the placeholder outcome recorded for tool calls whose
// execution never finished.
var interruptedResult = models.ToolResult{Success: false, Output: "Execution interrupted. Session was stopped."}

// missingToolResults plans a repair pass over an ordered transcript. It
// locates the last assistant message carrying tool calls, counts the tool
// messages after it, and returns placeholder tool messages for the calls
// beyond that count, to be inserted immediately after the assistant message.
// anchor is -1 when the transcript needs no repair.
func missingToolResults(messages []models.Message) (anchor int, placeholders []models.Message) {
	anchor = -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant && len(messages[i].ToolCalls) > 0 {
			anchor = i
			break
		}
	}
	if anchor == -1 {
		return -1, nil
	}

	replies := 0
	for _, msg := range messages[anchor+1:] {
		if msg.Role == models.RoleTool {
			replies++
		}
	}
	calls := messages[anchor].ToolCalls
	if replies >= len(calls) {
		return -1, nil
	}

	for _, call := range calls[replies:] {
		placeholders = append(placeholders, models.Message{
			Role:       models.RoleTool,
			ToolCallID: call.ID,
			Name:       call.Function.Name,
			Content:    interruptedResult.String(),
		})
	}
	return anchor, placeholders
}

// applyFilter narrows an ordered transcript per the filter. Messages are
// copied before mutation so callers never see store internals change.
func applyFilter(messages []models.Message, filter ListFilter) []models.Message {
	if filter.OnlyLatestAssistant {
		for i := len(messages) - 1; i >= 0; i-- {
			if messages[i].Role == models.RoleAssistant {
				return []models.Message{messages[i]}
			}
		}
		return []models.Message{}
	}

	if !filter.HideToolMessages {
		return messages
	}
	out := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleTool {
			continue
		}
		msg.ToolCalls = nil
		out = append(out, msg)
	}
	return out
}

// encodeContent serializes the content column: a JSON string for plain
// content, a JSON array for multi-part content.
func encodeContent(msg models.Message) ([]byte, error) {
	if len(msg.Parts) > 0 {
		data, err := json.Marshal(msg.Parts)
		if err != nil {
			return nil, fmt.Errorf("marshal content parts: %w", err)
		}
		return data, nil
	}
	data, err := json.Marshal(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	return data, nil
}

// decodeContent populates Content or Parts from a content column value.
func decodeContent(data []byte, msg *models.Message) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &msg.Content); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, &msg.Parts); err != nil {
		return fmt.Errorf("content is neither string nor parts: %w", err)
	}
	return nil
}

// encodeToolCalls serializes the tool_calls column; empty call lists store
// as NULL.
func encodeToolCalls(calls []models.NativeToolCall) ([]byte, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("marshal tool calls: %w", err)
	}
	return data, nil
}

func decodeToolCalls(data []byte, msg *models.Message) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &msg.ToolCalls); err != nil {
		return fmt.Errorf("unmarshal tool calls: %w", err)
	}
	return nil
}

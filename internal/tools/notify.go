package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/pkg/models"
)

// NotifyTool sends a one-way status message to the user. Unlike ask and
// complete it is not terminal: the run keeps going after it executes.
type NotifyTool struct{}

type notifyParams struct {
	Text        string `json:"text" jsonschema:"required,description=Message text to display to the user"`
	Attachments string `json:"attachments,omitempty" jsonschema:"description=Comma-separated list of file paths or URLs to show to the user"`
}

var notifySchema = mustSchema[notifyParams]()

func NewNotifyTool() *NotifyTool { return &NotifyTool{} }

func (t *NotifyTool) Name() string { return "notify" }

func (t *NotifyTool) Description() string {
	return "Send a message to the user without requiring a response. Use for acknowledging receipt of messages, providing progress updates, or reporting task completion."
}

func (t *NotifyTool) FunctionSchema() json.RawMessage { return notifySchema }

func (t *NotifyTool) MarkupSchema() *agent.MarkupSchema {
	return &agent.MarkupSchema{
		Tag: "notify",
		Mappings: []agent.MarkupMapping{
			{ParamName: "text", NodeType: agent.NodeContent, Path: ".", Required: true},
			{ParamName: "attachments", NodeType: agent.NodeAttribute, Path: ".", Required: false},
		},
		Example: `<notify attachments="results.txt,output.log">
    Processing finished without errors.
</notify>`,
	}
}

func (t *NotifyTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input notifyParams
	if err := json.Unmarshal(params, &input); err != nil {
		return &models.ToolResult{Success: false, Output: fmt.Sprintf("Invalid parameters: %v", err)}, nil
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return &models.ToolResult{Success: false, Output: "text is required"}, nil
	}

	output := "NOTIFICATION: " + text
	output += attachmentsBlock(input.Attachments)

	return &models.ToolResult{Success: true, Output: output}, nil
}

var _ agent.Tool = (*NotifyTool)(nil)

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/pkg/models"
)

// AskTool presents a question to the user and hands the turn back. The run
// supervisor treats its successful execution as a terminal condition, so the
// model stops producing output until the user answers.
type AskTool struct{}

type askParams struct {
	Text        string `json:"text" jsonschema:"required,description=Question text to present to the user"`
	Attachments string `json:"attachments,omitempty" jsonschema:"description=Comma-separated list of file paths or URLs relevant to the question"`
}

var askSchema = mustSchema[askParams]()

func NewAskTool() *AskTool { return &AskTool{} }

func (t *AskTool) Name() string { return "ask" }

func (t *AskTool) Description() string {
	return "Ask the user a question and wait for a response. Use for requesting clarification, asking for confirmation, or gathering additional information."
}

func (t *AskTool) FunctionSchema() json.RawMessage { return askSchema }

func (t *AskTool) MarkupSchema() *agent.MarkupSchema {
	return &agent.MarkupSchema{
		Tag: "ask",
		Mappings: []agent.MarkupMapping{
			{ParamName: "text", NodeType: agent.NodeContent, Path: ".", Required: true},
			{ParamName: "attachments", NodeType: agent.NodeAttribute, Path: ".", Required: false},
		},
		Example: `<ask attachments="report.pdf,data.csv">
    Should I proceed with the import?
</ask>`,
	}
}

func (t *AskTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input askParams
	if err := json.Unmarshal(params, &input); err != nil {
		return &models.ToolResult{Success: false, Output: fmt.Sprintf("Invalid parameters: %v", err)}, nil
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return &models.ToolResult{Success: false, Output: "text is required"}, nil
	}

	output := "QUESTION: " + text
	output += attachmentsBlock(input.Attachments)

	return &models.ToolResult{Success: true, Output: output}, nil
}

var _ agent.Tool = (*AskTool)(nil)

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/pkg/models"
)

// CompleteTool marks every task in the thread as done. The run supervisor
// treats its successful execution as a terminal condition. The optional
// summary rides in a child element rather than the body, so the markup form
// exercises element mappings.
type CompleteTool struct{}

type completeParams struct {
	Summary     string `json:"summary,omitempty" jsonschema:"description=Short summary of what was accomplished"`
	Attachments string `json:"attachments,omitempty" jsonschema:"description=Comma-separated list of file paths or URLs for final deliverables"`
}

var completeSchema = mustSchema[completeParams]()

func NewCompleteTool() *CompleteTool { return &CompleteTool{} }

func (t *CompleteTool) Name() string { return "complete" }

func (t *CompleteTool) Description() string {
	return "Indicate that all tasks are finished and the agent should stop. Use only when nothing remains to be done."
}

func (t *CompleteTool) FunctionSchema() json.RawMessage { return completeSchema }

func (t *CompleteTool) MarkupSchema() *agent.MarkupSchema {
	return &agent.MarkupSchema{
		Tag: "complete",
		Mappings: []agent.MarkupMapping{
			{ParamName: "summary", NodeType: agent.NodeElement, Path: "summary", Required: false},
			{ParamName: "attachments", NodeType: agent.NodeAttribute, Path: ".", Required: false},
		},
		Example: `<complete attachments="report.pdf">
    <summary>Imported the dataset and produced the final report.</summary>
</complete>`,
	}
}

func (t *CompleteTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input completeParams
	if err := json.Unmarshal(params, &input); err != nil {
		return &models.ToolResult{Success: false, Output: fmt.Sprintf("Invalid parameters: %v", err)}, nil
	}

	output := "Task completed"
	if summary := strings.TrimSpace(input.Summary); summary != "" {
		output += ": " + summary
	}
	output += attachmentsBlock(input.Attachments)

	return &models.ToolResult{Success: true, Output: output}, nil
}

var _ agent.Tool = (*CompleteTool)(nil)

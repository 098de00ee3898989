package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/strandlabs/strand/pkg/models"
)

// stubTool is the in-test Tool implementation shared across this package's
// tests.
type stubTool struct {
	name        string
	description string
	schema      json.RawMessage
	markup      *MarkupSchema
	execute     func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}

func (t *stubTool) Name() string                    { return t.name }
func (t *stubTool) Description() string             { return t.description }
func (t *stubTool) FunctionSchema() json.RawMessage { return t.schema }
func (t *stubTool) MarkupSchema() *MarkupSchema     { return t.markup }

func (t *stubTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	if t.execute != nil {
		return t.execute(ctx, params)
	}
	return &models.ToolResult{Success: true, Output: "ok"}, nil
}

func greetSchema() *MarkupSchema {
	return &MarkupSchema{
		Tag: "greet",
		Mappings: []MarkupMapping{
			{ParamName: "name", NodeType: NodeAttribute, Required: true},
			{ParamName: "text", NodeType: NodeContent, Path: "."},
		},
		Example: `<greet name="Ada">Hello</greet>`,
	}
}

func mustRegister(t *testing.T, reg *Registry, tools ...Tool) {
	t.Helper()
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register(%s) error: %v", tool.Name(), err)
		}
	}
}

func TestRegistry_DualIndex(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg,
		&stubTool{name: "greet", markup: greetSchema()},
		&stubTool{name: "search", description: "full text search"},
	)

	if _, ok := reg.Get("greet"); !ok {
		t.Error("Get(greet) not found")
	}
	if _, ok := reg.ByTag("greet"); !ok {
		t.Error("ByTag(greet) not found")
	}
	if _, ok := reg.ByTag("search"); ok {
		t.Error("search has no markup schema but is tag-indexed")
	}
	if tags := reg.Tags(); len(tags) != 1 || tags[0] != "greet" {
		t.Errorf("Tags() = %v", tags)
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg, &stubTool{name: "greet", markup: greetSchema()})

	if err := reg.Register(&stubTool{name: "greet"}); err == nil {
		t.Error("duplicate name accepted")
	}
	other := &stubTool{name: "salute", markup: greetSchema()}
	if err := reg.Register(other); err == nil {
		t.Error("duplicate markup tag accepted")
	}
	// The failed registration must not leave the tool reachable by name.
	if _, ok := reg.Get("salute"); ok {
		t.Error("salute registered despite tag conflict")
	}
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	mustRegister(t, reg,
		&stubTool{name: "zeta", description: "z"},
		&stubTool{name: "alpha", description: "a"},
	)

	defs := reg.Definitions()
	if len(defs) != 2 || defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Errorf("Definitions() = %+v", defs)
	}
}

func TestRegistry_ValidateArguments(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"q": {"type": "string"}},
		"required": ["q"]
	}`)
	reg := NewRegistry()
	mustRegister(t, reg,
		&stubTool{name: "search", schema: schema},
		&stubTool{name: "free"},
	)

	if err := reg.ValidateArguments("search", map[string]any{"q": "go"}); err != nil {
		t.Errorf("valid arguments rejected: %v", err)
	}
	err := reg.ValidateArguments("search", map[string]any{"q": 42})
	if err == nil {
		t.Fatal("type mismatch accepted")
	}
	if !strings.Contains(err.Error(), "search") {
		t.Errorf("error does not name the tool: %v", err)
	}
	if err := reg.ValidateArguments("free", map[string]any{"anything": true}); err != nil {
		t.Errorf("schemaless tool rejected arguments: %v", err)
	}
}

func TestRegistry_RejectsBadSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(&stubTool{name: "broken", schema: json.RawMessage(`{"type": 12}`)})
	if err == nil {
		t.Error("invalid schema accepted")
	}
}

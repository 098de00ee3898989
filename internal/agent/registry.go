package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry holds the tools available to a processor, indexed by function name
// and, for tools that publish a markup schema, by markup tag.
//
// Registration compiles the tool's parameter schema once so structured
// arguments can be validated before invocation. A Registry is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Tool
	byTag   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]Tool),
		byTag:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool under its function name and, when it declares one, its
// markup tag. Both namespaces reject duplicates.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("tool is nil")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool has no name")
	}

	var compiled *jsonschema.Schema
	if raw := tool.FunctionSchema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "strand://tools/" + name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("add parameter schema for %q: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("compile parameter schema for %q: %w", name, err)
		}
		compiled = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	if ms := tool.MarkupSchema(); ms != nil {
		if ms.Tag == "" {
			return fmt.Errorf("tool %q declares a markup schema without a tag", name)
		}
		if _, exists := r.byTag[ms.Tag]; exists {
			return fmt.Errorf("markup tag %q already registered", ms.Tag)
		}
		r.byTag[ms.Tag] = tool
	}
	r.byName[name] = tool
	if compiled != nil {
		r.schemas[name] = compiled
	}
	return nil
}

// Get returns the tool registered under a function name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[name]
	return tool, ok
}

// ByTag returns the tool registered under a markup tag.
func (r *Registry) ByTag(tag string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byTag[tag]
	return tool, ok
}

// Tags returns the registered markup tags in stable order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Names returns the registered function names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the function-form declarations advertised to the
// language model on a completion request.
func (r *Registry) Definitions() []ToolDefinition {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.byName[name]
		defs = append(defs, ToolDefinition{
			Name:        name,
			Description: tool.Description(),
			Parameters:  tool.FunctionSchema(),
		})
	}
	return defs
}

// ValidateArguments checks structured arguments against the tool's compiled
// parameter schema. Tools without a schema accept anything.
func (r *Registry) ValidateArguments(name string, args map[string]any) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	// Round-trip through encoding/json so the validator sees plain JSON
	// types regardless of what the map holds.
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("arguments for %q: %w", name, err)
	}
	return nil
}

package agent

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// Accumulator reassembles structured tool calls that arrive as indexed
// fragments across streaming chunks. Fragments sharing an index belong to one
// call: id and name overwrite when present, argument text concatenates. A
// call is complete once its name is known and the accumulated argument text
// parses as JSON; an id missing from the first fragment is synthesized so the
// call can always be persisted and answered.
//
// An accumulator serves a single response and is not safe for concurrent use.
type Accumulator struct {
	logger  *slog.Logger
	partial map[int]*partialCall
}

type partialCall struct {
	id       string
	name     string
	args     strings.Builder
	complete bool
}

// NewAccumulator creates an accumulator logging drops through logger.
func NewAccumulator(logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		logger:  logger,
		partial: make(map[int]*partialCall),
	}
}

// Add applies one fragment. When the fragment completes its call the
// assembled ToolCall is returned exactly once; fragments for an already
// completed index are ignored so a call is never dispatched twice.
func (a *Accumulator) Add(delta models.ToolCallDelta) *models.ToolCall {
	pc, ok := a.partial[delta.Index]
	if !ok {
		pc = &partialCall{}
		a.partial[delta.Index] = pc
	}
	if pc.complete {
		return nil
	}
	if delta.ID != "" {
		pc.id = delta.ID
	}
	if pc.id == "" {
		pc.id = uuid.New().String()
	}
	if delta.Function.Name != "" {
		pc.name = delta.Function.Name
	}
	if delta.Function.Arguments != "" {
		pc.args.WriteString(delta.Function.Arguments)
	}

	if pc.name == "" || pc.args.Len() == 0 {
		return nil
	}
	raw := pc.args.String()
	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		// Arguments still streaming in.
		return nil
	}
	pc.complete = true
	return &models.ToolCall{
		ID:           pc.id,
		FunctionName: pc.name,
		Arguments:    wrapArguments(parsed, raw),
	}
}

// DropIncomplete discards calls that never completed, logging each one.
// Called after the chunk source is exhausted.
func (a *Accumulator) DropIncomplete() int {
	dropped := 0
	for index, pc := range a.partial {
		if pc.complete {
			continue
		}
		a.logger.Warn("dropping incomplete tool call",
			"index", index,
			"function", pc.name,
			"arguments_len", pc.args.Len())
		delete(a.partial, index)
		dropped++
	}
	return dropped
}

// wrapArguments normalizes a decoded argument payload to a map. Models
// occasionally emit a bare JSON string instead of an object; those become
// {"text": value}. Any other non-object payload keeps its raw JSON text under
// the same key.
func wrapArguments(parsed any, raw string) map[string]any {
	switch args := parsed.(type) {
	case map[string]any:
		return args
	case string:
		return map[string]any{"text": args}
	default:
		return map[string]any{"text": raw}
	}
}

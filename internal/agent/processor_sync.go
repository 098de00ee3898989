package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/pkg/models"
)

// ProcessResponse handles a whole, non-streamed response through the same
// event contract as ProcessStream: one content event carries the full text,
// every structured call arrives already assembled, all execution is deferred
// to the end, and markup blocks beyond the call cap are truncated.
func (p *Processor) ProcessResponse(ctx context.Context, threadID string, resp *CompletionResponse) <-chan *models.Event {
	events := make(chan *models.Event)
	go func() {
		defer close(events)
		if err := p.processWhole(ctx, threadID, resp, events); err != nil {
			p.fail(ctx, events, err)
		}
	}()
	return events
}

func (p *Processor) processWhole(ctx context.Context, threadID string, resp *CompletionResponse, events chan<- *models.Event) error {
	st := &responseState{
		threadID: threadID,
		markup:   NewMarkupParser(p.registry),
		acc:      NewAccumulator(p.logger),
	}
	st.finishReason = resp.FinishReason

	if resp.Content != "" {
		st.content.WriteString(resp.Content)
		if !p.send(ctx, events, models.NewContentEvent(resp.Content)) {
			return ctx.Err()
		}
	}

	if p.config.MarkupToolCalling && resp.Content != "" {
		st.markup.Feed(resp.Content)
		for _, block := range st.markup.ExtractBlocks() {
			if p.config.MaxMarkupToolCalls > 0 && st.markupCalls >= p.config.MaxMarkupToolCalls {
				// Truncated: later blocks stay in the content, unexecuted.
				p.logger.Info("markup tool call limit reached", "limit", p.config.MaxMarkupToolCalls)
				st.finishReason = models.FinishReasonToolLimit
				break
			}
			call, err := st.markup.ParseBlock(block)
			if err != nil {
				p.logger.Error("discarding unparseable markup block", "error", err)
				ev := models.NewToolStatusEvent(models.ToolStatusError,
					models.ToolCall{XMLTagName: blockTag(block)}, st.toolIndex, err.Error())
				if !p.send(ctx, events, ev) {
					return ctx.Err()
				}
				continue
			}
			st.markupCalls++
			if p.config.ExecuteTools {
				st.deferred = append(st.deferred, call)
			}
		}
	}

	if p.config.StructuredToolCalling {
		for _, native := range resp.ToolCalls {
			call, err := callFromNative(native)
			if err != nil {
				p.logger.Error("discarding malformed structured call",
					"function", native.Function.Name,
					"error", err)
				continue
			}
			st.structured = append(st.structured, call)
			if p.config.ExecuteTools {
				st.deferred = append(st.deferred, call)
			}
		}
	}

	return p.finalize(ctx, st, events)
}

// callFromNative converts an assembled native call into the executable shape,
// synthesizing an id when the model omitted one.
func callFromNative(native models.NativeToolCall) (*models.ToolCall, error) {
	if native.Function.Name == "" {
		return nil, fmt.Errorf("call has no function name")
	}
	var parsed any
	if err := json.Unmarshal([]byte(native.Function.Arguments), &parsed); err != nil {
		return nil, fmt.Errorf("parse arguments: %w", err)
	}
	id := native.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &models.ToolCall{
		ID:           id,
		FunctionName: native.Function.Name,
		Arguments:    wrapArguments(parsed, native.Function.Arguments),
	}, nil
}

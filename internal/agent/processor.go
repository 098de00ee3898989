package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/strandlabs/strand/pkg/models"
)

// Processor drives one language-model response end to end: it consumes the
// provider's chunk stream, detects tool calls in both formats, schedules
// their execution, persists the authoritative record through the message
// store, and emits the live event stream observers see.
//
// A processor is stateless across responses and safe for concurrent use; all
// per-response state lives in the goroutine ProcessStream spawns.
type Processor struct {
	registry *Registry
	executor *Executor
	store    MessageStore
	logger   *slog.Logger
	config   ProcessorConfig
}

// NewProcessor validates the configuration and builds a processor.
func NewProcessor(registry *Registry, executor *Executor, store MessageStore, cfg ProcessorConfig, logger *slog.Logger) (*Processor, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if store == nil {
		return nil, errors.New("message store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("processor config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		registry: registry,
		executor: executor,
		store:    store,
		logger:   logger,
		config:   sanitizeProcessorConfig(cfg),
	}, nil
}

// pendingExecution tracks one immediately dispatched call until its result is
// drained. The done channel is buffered so an abandoned execution can finish
// and be collected without anyone listening.
type pendingExecution struct {
	call  *models.ToolCall
	index int
	done  chan *models.ToolResult
}

// responseState carries everything the processor accumulates for one
// response.
type responseState struct {
	threadID string
	content  strings.Builder
	markup   *MarkupParser
	acc      *Accumulator

	pending    []*pendingExecution // dispatched, result not yet drained
	executed   []ExecutionResult   // drained on-stream results, dispatch order
	structured []*models.ToolCall  // completed structured calls, completion order
	deferred   []*models.ToolCall  // calls awaiting post-stream execution

	toolIndex    int
	markupCalls  int
	finishReason string
	capped       bool
}

// ProcessStream consumes a provider chunk stream and returns the event stream
// for it. The returned channel closes when processing finishes. A fatal
// failure (provider stream error, store persistence) emits a terminal error
// event first. Cancelling ctx abandons processing between events; in-flight
// tool executions are left to finish into their buffered channels and their
// results are discarded.
func (p *Processor) ProcessStream(ctx context.Context, threadID string, chunks <-chan *CompletionChunk) <-chan *models.Event {
	events := make(chan *models.Event)
	go func() {
		defer close(events)
		st := &responseState{
			threadID: threadID,
			markup:   NewMarkupParser(p.registry),
			acc:      NewAccumulator(p.logger),
		}
		if err := p.consume(ctx, st, chunks, events); err != nil {
			p.fail(ctx, events, err)
			return
		}
		if err := p.finalize(ctx, st, events); err != nil {
			p.fail(ctx, events, err)
		}
	}()
	return events
}

// consume runs the chunk loop until the stream closes, the markup call cap
// stops it, or a fatal error surfaces.
func (p *Processor) consume(ctx context.Context, st *responseState, chunks <-chan *CompletionChunk, events chan<- *models.Event) error {
	for {
		var chunk *CompletionChunk
		var ok bool
		select {
		case chunk, ok = <-chunks:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			return nil
		}
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("provider stream: %w", chunk.Error)
		}
		if chunk.FinishReason != "" {
			st.finishReason = chunk.FinishReason
		}
		if chunk.Text != "" {
			if err := p.handleText(ctx, st, chunk.Text, events); err != nil {
				return err
			}
		}
		if p.config.StructuredToolCalling && len(chunk.ToolCallDeltas) > 0 {
			if err := p.handleDeltas(ctx, st, chunk.ToolCallDeltas, events); err != nil {
				return err
			}
		}
		if st.capped {
			// The cap ends stream consumption after the chunk that hit it;
			// calls parsed so far still execute during finalization.
			return nil
		}
		if err := p.drainFinished(ctx, st, events); err != nil {
			return err
		}
	}
}

// handleText appends a content delta, forwards it to observers, and drains
// any markup blocks it completed.
func (p *Processor) handleText(ctx context.Context, st *responseState, delta string, events chan<- *models.Event) error {
	st.content.WriteString(delta)
	if !p.send(ctx, events, models.NewContentEvent(delta)) {
		return ctx.Err()
	}
	if !p.config.MarkupToolCalling || st.capped {
		return nil
	}
	st.markup.Feed(delta)
	for _, block := range st.markup.ExtractBlocks() {
		call, err := st.markup.ParseBlock(block)
		if err != nil {
			// The block stays in the assistant content; the model just gets
			// no result for it.
			p.logger.Error("discarding unparseable markup block", "error", err)
			ev := models.NewToolStatusEvent(models.ToolStatusError,
				models.ToolCall{XMLTagName: blockTag(block)}, st.toolIndex, err.Error())
			if !p.send(ctx, events, ev) {
				return ctx.Err()
			}
			continue
		}
		st.markupCalls++
		if err := p.admit(ctx, st, call, events); err != nil {
			return err
		}
		if p.config.MaxMarkupToolCalls > 0 && st.markupCalls >= p.config.MaxMarkupToolCalls {
			p.logger.Info("markup tool call limit reached", "limit", p.config.MaxMarkupToolCalls)
			st.finishReason = models.FinishReasonToolLimit
			st.capped = true
			return nil
		}
	}
	return nil
}

// handleDeltas forwards structured fragments to observers and feeds the
// accumulator, admitting each call the moment it completes.
func (p *Processor) handleDeltas(ctx context.Context, st *responseState, deltas []models.ToolCallDelta, events chan<- *models.Event) error {
	for _, delta := range deltas {
		if !p.send(ctx, events, models.NewToolCallFragmentEvent(delta)) {
			return ctx.Err()
		}
		call := st.acc.Add(delta)
		if call == nil {
			continue
		}
		st.structured = append(st.structured, call)
		if err := p.admit(ctx, st, call, events); err != nil {
			return err
		}
	}
	return nil
}

// admit routes a freshly detected call: immediate dispatch when executing on
// stream, the deferred batch otherwise. With execution disabled the call is
// only recorded (structured calls still reach the assistant message).
func (p *Processor) admit(ctx context.Context, st *responseState, call *models.ToolCall, events chan<- *models.Event) error {
	if !p.config.ExecuteTools {
		return nil
	}
	if p.config.ExecuteOnStream {
		return p.dispatch(ctx, st, call, events)
	}
	st.deferred = append(st.deferred, call)
	return nil
}

// dispatch starts an immediate execution. The call owns the next tool index
// and its started status is emitted before execution begins; the execution
// itself proceeds concurrently with stream consumption.
func (p *Processor) dispatch(ctx context.Context, st *responseState, call *models.ToolCall, events chan<- *models.Event) error {
	pe := &pendingExecution{
		call:  call,
		index: st.toolIndex,
		done:  make(chan *models.ToolResult, 1),
	}
	st.toolIndex++
	started := models.NewToolStatusEvent(models.ToolStatusStarted, *call, pe.index,
		fmt.Sprintf("Starting execution of %s", call.FunctionName))
	if !p.send(ctx, events, started) {
		return ctx.Err()
	}
	st.pending = append(st.pending, pe)
	go func() {
		pe.done <- p.executor.Execute(ctx, call)
	}()
	return nil
}

// drainFinished collects results that resolved since the last chunk without
// blocking the stream.
func (p *Processor) drainFinished(ctx context.Context, st *responseState, events chan<- *models.Event) error {
	remaining := st.pending[:0]
	for _, pe := range st.pending {
		select {
		case result := <-pe.done:
			if err := p.emitOutcome(ctx, st, pe, result, events); err != nil {
				return err
			}
		default:
			remaining = append(remaining, pe)
		}
	}
	st.pending = remaining
	return nil
}

// awaitPending blocks until every dispatched execution resolves.
func (p *Processor) awaitPending(ctx context.Context, st *responseState, events chan<- *models.Event) error {
	if len(st.pending) == 0 {
		return nil
	}
	p.logger.Debug("waiting for tool executions", "count", len(st.pending))
	for _, pe := range st.pending {
		select {
		case result := <-pe.done:
			if err := p.emitOutcome(ctx, st, pe, result, events); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	st.pending = nil
	return nil
}

// emitOutcome records a drained result and announces completed|failed plus
// the result itself under the index the call was dispatched with.
func (p *Processor) emitOutcome(ctx context.Context, st *responseState, pe *pendingExecution, result *models.ToolResult, events chan<- *models.Event) error {
	st.executed = append(st.executed, ExecutionResult{Call: pe.call, Result: result})
	status := models.ToolStatusCompleted
	message := fmt.Sprintf("Tool %s completed successfully", pe.call.FunctionName)
	if !result.Success {
		status = models.ToolStatusFailed
		message = fmt.Sprintf("Tool %s failed", pe.call.FunctionName)
	}
	if !p.send(ctx, events, models.NewToolStatusEvent(status, *pe.call, pe.index, message)) {
		return ctx.Err()
	}
	if !p.send(ctx, events, models.NewToolResultEvent(*pe.call, *result, pe.index)) {
		return ctx.Err()
	}
	return nil
}

// finalize settles the response once the stream is done: await on-stream
// executions, persist the assistant message ahead of every tool result, run
// the deferred batch, and emit the finish event last.
func (p *Processor) finalize(ctx context.Context, st *responseState, events chan<- *models.Event) error {
	if err := p.awaitPending(ctx, st, events); err != nil {
		return err
	}
	st.acc.DropIncomplete()

	content := st.content.String()
	if content != "" || len(st.structured) > 0 {
		assistant := models.Message{Role: models.RoleAssistant, Content: content}
		for _, call := range st.structured {
			assistant.ToolCalls = append(assistant.ToolCalls, call.Native())
		}
		if _, err := p.store.AppendMessage(ctx, st.threadID, assistant); err != nil {
			return fmt.Errorf("persist assistant message: %w", err)
		}
		for _, res := range st.executed {
			if err := p.persistResult(ctx, st.threadID, res.Call, res.Result); err != nil {
				return err
			}
		}
		if err := p.runDeferred(ctx, st, events); err != nil {
			return err
		}
	}

	if st.finishReason != "" {
		if !p.send(ctx, events, models.NewFinishEvent(st.finishReason)) {
			return ctx.Err()
		}
	}
	return nil
}

// runDeferred executes the calls collected during the stream under the
// configured strategy. Each result is persisted, announced as tool_result,
// and assigned the next tool index; deferred execution emits no started or
// completed statuses.
func (p *Processor) runDeferred(ctx context.Context, st *responseState, events chan<- *models.Event) error {
	if len(st.deferred) == 0 {
		return nil
	}
	results := p.executor.ExecuteAll(ctx, st.deferred, p.config.ToolExecutionStrategy)
	for _, res := range results {
		if err := p.persistResult(ctx, st.threadID, res.Call, res.Result); err != nil {
			return err
		}
		if !p.send(ctx, events, models.NewToolResultEvent(*res.Call, *res.Result, st.toolIndex)) {
			return ctx.Err()
		}
		st.toolIndex++
	}
	return nil
}

// persistResult writes one tool outcome to the thread. Markup-origin results
// keep their tag wrapper and land under the configured placement role;
// structured results become canonical role=tool messages answering the call
// id.
func (p *Processor) persistResult(ctx context.Context, threadID string, call *models.ToolCall, result *models.ToolResult) error {
	var msg models.Message
	if call.XMLTagName != "" {
		role := models.RoleAssistant
		if p.config.MarkupResultPlacement == PlacementUserMessage {
			role = models.RoleUser
		}
		msg = models.Message{Role: role, Content: models.FormatToolResult(*call, *result)}
	} else {
		msg = models.Message{
			Role:       models.RoleTool,
			ToolCallID: call.ID,
			Name:       call.FunctionName,
			Content:    result.Output,
		}
	}
	if _, err := p.store.AppendMessage(ctx, threadID, msg); err != nil {
		return fmt.Errorf("persist result for %s: %w", call.FunctionName, err)
	}
	return nil
}

// fail reports a fatal processing error to observers unless the context is
// already gone, in which case nobody is listening and the run supervisor owns
// the outcome.
func (p *Processor) fail(ctx context.Context, events chan<- *models.Event, err error) {
	if ctx.Err() != nil {
		return
	}
	p.logger.Error("response processing failed", "error", err)
	p.send(ctx, events, models.NewErrorEvent(err.Error()))
}

// send delivers an event unless the context is cancelled first. A false
// return means the response was abandoned.
func (p *Processor) send(ctx context.Context, events chan<- *models.Event, ev *models.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/pkg/models"
)

// maxParallelExecutions bounds concurrency under the parallel strategy.
const maxParallelExecutions = 8

// Executor resolves tool calls against a registry and runs them. Every
// failure mode - unknown tool, invalid arguments, returned error, panic -
// becomes a failed ToolResult, so one bad call can never take down a batch or
// the response that spawned it.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// ExecutionResult pairs a call with its outcome.
type ExecutionResult struct {
	Call   *models.ToolCall
	Result *models.ToolResult
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// WithMetrics attaches a recorder for execution counts and timings.
func (e *Executor) WithMetrics(m *observability.Metrics) *Executor {
	e.metrics = m
	return e
}

// WithTracer attaches a tracer; each execution gets a tool.execute span.
func (e *Executor) WithTracer(t *observability.Tracer) *Executor {
	e.tracer = t
	return e
}

// Execute runs a single call and always produces a result.
func (e *Executor) Execute(ctx context.Context, call *models.ToolCall) *models.ToolResult {
	source := "structured"
	if call.XMLTagName != "" {
		source = "markup"
	}
	ctx, span := e.tracer.StartToolExecution(ctx, call.FunctionName, source)
	defer span.End()

	start := time.Now()
	result := e.execute(ctx, call)
	status := "success"
	if !result.Success {
		status = "error"
	}
	e.metrics.RecordToolExecution(call.FunctionName, status, time.Since(start).Seconds())
	e.tracer.SetAttributes(span, "tool.success", result.Success)
	return result
}

func (e *Executor) execute(ctx context.Context, call *models.ToolCall) *models.ToolResult {
	tool, ok := e.registry.Get(call.FunctionName)
	if !ok {
		return &models.ToolResult{Success: false, Output: "Tool not found: " + call.FunctionName}
	}
	// Markup-extracted arguments are plain strings; only structured calls
	// carry schema-typed values worth validating.
	if call.XMLTagName == "" {
		if err := e.registry.ValidateArguments(call.FunctionName, call.Arguments); err != nil {
			return failedResult(err)
		}
	}
	params, err := json.Marshal(call.Arguments)
	if err != nil {
		return failedResult(fmt.Errorf("encode arguments: %w", err))
	}
	return e.invoke(ctx, tool, call, params)
}

// invoke dispatches to the tool with a recover fence around it.
func (e *Executor) invoke(ctx context.Context, tool Tool, call *models.ToolCall, params json.RawMessage) (result *models.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked",
				"tool", call.FunctionName,
				"panic", r,
				"stack", string(debug.Stack()))
			result = failedResult(fmt.Errorf("%v", r))
		}
	}()
	res, err := tool.Execute(ctx, params)
	if err != nil {
		e.logger.Error("tool execution failed",
			"tool", call.FunctionName,
			"error", err)
		return failedResult(err)
	}
	if res == nil {
		return failedResult(fmt.Errorf("tool %s returned no result", call.FunctionName))
	}
	return res
}

// ExecuteAll runs a batch under the given strategy and returns results in
// input order. Sequential runs calls one at a time; parallel launches them
// concurrently, capped by a semaphore, and waits for the full batch.
func (e *Executor) ExecuteAll(ctx context.Context, calls []*models.ToolCall, strategy ExecutionStrategy) []ExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	if strategy == StrategyParallel {
		return e.executeParallel(ctx, calls)
	}
	results := make([]ExecutionResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, ExecutionResult{Call: call, Result: e.Execute(ctx, call)})
	}
	return results
}

func (e *Executor) executeParallel(ctx context.Context, calls []*models.ToolCall) []ExecutionResult {
	results := make([]ExecutionResult, len(calls))
	sem := make(chan struct{}, maxParallelExecutions)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call *models.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = ExecutionResult{Call: call, Result: e.Execute(ctx, call)}
		}(i, call)
	}
	wg.Wait()
	return results
}

func failedResult(err error) *models.ToolResult {
	return &models.ToolResult{
		Success: false,
		Output:  fmt.Sprintf("Error executing tool: %v", err),
	}
}

package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/bus"
	"github.com/strandlabs/strand/internal/threads"
	"github.com/strandlabs/strand/pkg/models"
)

const (
	// subscribeAttempts bounds control-channel subscription retries.
	subscribeAttempts = 3

	// presenceRefreshEvery is the event cadence of presence TTL refreshes.
	presenceRefreshEvery = 100
)

// terminalTools are user-interaction tools whose successful execution ends
// the agent loop: the model handed the turn back to the user.
var terminalTools = map[string]bool{
	"ask":      true,
	"complete": true,
}

// supervisor drives one agent run to a terminal status in the background. It
// loops the model against the thread, appends every emitted event to the
// run's log, watches the control channels for STOP between events, and
// records the outcome on the run record.
type supervisor struct {
	ctrl *Controller
	run  *models.AgentRun
	log  *EventLog

	stop   atomic.Bool
	events int
	logger *slog.Logger
}

func newSupervisor(ctrl *Controller, run *models.AgentRun, log *EventLog) *supervisor {
	return &supervisor{
		ctrl: ctrl,
		run:  run,
		log:  log,
		logger: ctrl.logger.With(
			"run_id", run.ID,
			"thread_id", run.ThreadID,
			"instance_id", ctrl.instanceID),
	}
}

// requestStop asks the loop to terminate at the next event boundary.
func (s *supervisor) requestStop() {
	s.stop.Store(true)
}

func (s *supervisor) stopped() bool {
	return s.stop.Load()
}

// supervise executes the supervision lifecycle end to end. It must run on
// its own goroutine; the caller owns registration of the event log.
func (s *supervisor) supervise(ctx context.Context) {
	start := time.Now()
	key := bus.PresenceKey(s.ctrl.instanceID, s.run.ID)

	sub := s.subscribe(ctx)
	if err := s.ctrl.bus.SetKey(ctx, key, presenceValue, s.ctrl.presence); err != nil {
		s.logger.Warn("failed to refresh presence key", "error", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	if sub != nil {
		go func() {
			defer close(watchDone)
			s.watch(watchCtx, sub)
		}()
	} else {
		close(watchDone)
	}

	runErr := s.loop(ctx)

	var status models.RunStatus
	switch {
	case s.stopped():
		// The stop path already recorded the stopped status and
		// completion time; nothing past the stop point is persisted.
		status = models.RunStatusStopped
		s.logger.Info("agent run stopped", "duration", time.Since(start), "events", s.log.Len())
	case runErr != nil:
		status = models.RunStatusFailed
		s.fail(ctx, runErr, start)
	default:
		status = models.RunStatusCompleted
		s.complete(ctx, start)
	}
	s.ctrl.metrics.RunFinished(string(status), time.Since(start).Seconds())

	stopWatch()
	<-watchDone
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Warn("failed to close control subscription", "error", err)
		}
	}
	if err := s.ctrl.bus.DeleteKey(context.Background(), key); err != nil {
		s.logger.Warn("failed to delete presence key", "error", err)
	}
}

// loop runs agent steps until a terminal condition. A panic anywhere in the
// step machinery becomes an error carrying the stack.
func (s *supervisor) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent loop panic: %v\n%s", r, debug.Stack())
		}
	}()

	for step := 0; s.ctrl.maxSteps <= 0 || step < s.ctrl.maxSteps; step++ {
		if s.stopped() {
			return nil
		}
		terminal, err := s.step(ctx, step)
		if err != nil {
			return err
		}
		if terminal || s.stopped() {
			return nil
		}
	}
	s.logger.Info("agent loop reached max iterations", "max_iterations", s.ctrl.maxSteps)
	return nil
}

// step performs one model completion and processes its stream. It reports
// terminal=true when the conversation came to rest: no tool ran, the markup
// call cap cut the response short, or a user-interaction tool succeeded.
func (s *supervisor) step(ctx context.Context, step int) (terminal bool, err error) {
	stepCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stepCtx, span := s.ctrl.tracer.StartStep(stepCtx, s.run.ID, s.run.ThreadID, step)
	defer func() {
		s.ctrl.tracer.RecordError(span, err)
		span.End()
	}()

	history, err := s.ctrl.threads.ListMessages(stepCtx, s.run.ThreadID, threads.ListFilter{})
	if err != nil {
		return false, fmt.Errorf("load thread history: %w", err)
	}

	req := &agent.CompletionRequest{
		System:   s.ctrl.system,
		Messages: history,
	}
	if s.ctrl.procCfg.StructuredToolCalling && s.ctrl.provider.SupportsTools() {
		req.Tools = s.ctrl.registry.Definitions()
	}

	llmStart := time.Now()
	llmCtx, llmSpan := s.ctrl.tracer.StartLLMRequest(stepCtx, s.ctrl.provider.Name())
	chunks, err := s.ctrl.provider.Complete(llmCtx, req)
	if err != nil {
		s.ctrl.tracer.RecordError(llmSpan, err)
		llmSpan.End()
		s.ctrl.metrics.RecordLLMRequest(s.ctrl.provider.Name(), "error", time.Since(llmStart).Seconds())
		return false, fmt.Errorf("request completion: %w", err)
	}
	// The span covers the full response: request plus stream consumption.
	defer llmSpan.End()

	events := s.ctrl.processor.ProcessStream(llmCtx, s.run.ThreadID, chunks)

	var (
		toolResults  int
		terminalTool bool
		capped       bool
		procErr      error
	)
	for ev := range events {
		if s.stopped() {
			// Abandon the in-flight response: late events and results
			// are discarded, never appended.
			cancel()
			for range events {
			}
			s.ctrl.metrics.RecordLLMRequest(s.ctrl.provider.Name(), "success", time.Since(llmStart).Seconds())
			return true, nil
		}

		s.log.Append(ev)
		s.ctrl.metrics.StreamEvent(string(ev.Type))
		s.events++
		if s.events%presenceRefreshEvery == 0 {
			s.refreshPresence(ctx)
		}

		switch ev.Type {
		case models.EventTypeToolResult:
			toolResults++
			// The result string embeds the success flag
			// (ToolResult(success=...)).
			if terminalTools[ev.FunctionName] && strings.Contains(ev.Result, "success=true") {
				terminalTool = true
			}
		case models.EventTypeFinish:
			if ev.FinishReason == models.FinishReasonToolLimit {
				capped = true
			}
		case models.EventTypeError:
			procErr = fmt.Errorf("response processing: %s", ev.Message)
		}
	}

	llmStatus := "success"
	if procErr != nil {
		llmStatus = "error"
	}
	s.ctrl.metrics.RecordLLMRequest(s.ctrl.provider.Name(), llmStatus, time.Since(llmStart).Seconds())

	if procErr != nil {
		s.ctrl.tracer.RecordError(llmSpan, procErr)
		return false, procErr
	}
	return toolResults == 0 || terminalTool || capped, nil
}

// complete records a clean terminal transition and notifies stream readers.
func (s *supervisor) complete(ctx context.Context, start time.Time) {
	s.log.Append(models.NewStatusEvent(models.RunStatusCompleted, "Agent run completed successfully"))

	responses, err := json.Marshal(s.log.Snapshot())
	if err != nil {
		s.logger.Error("failed to serialize event log", "error", err)
		responses = nil
	}
	err = finishWithRetry(ctx, s.ctrl.store, s.logger, s.run.ID, models.RunStatusCompleted, "", responses)
	switch {
	case errors.Is(err, ErrAlreadyTerminal):
		// A concurrent stop won the terminal transition; its status
		// stands.
		s.logger.Info("agent run already terminal at completion")
	case err != nil:
		s.logger.Error("failed to record agent run completion", "error", err)
	}

	s.announce(ctx, bus.SignalEndStream)
	s.logger.Info("agent run completed", "duration", time.Since(start), "events", s.log.Len())
}

// fail records a failed terminal transition and notifies stream readers.
func (s *supervisor) fail(ctx context.Context, runErr error, start time.Time) {
	s.logger.Error("agent run failed", "error", runErr, "duration", time.Since(start))
	s.log.Append(models.NewStatusEvent(models.RunStatusFailed, runErr.Error()))

	responses, err := json.Marshal(s.log.Snapshot())
	if err != nil {
		s.logger.Error("failed to serialize event log", "error", err)
		responses = nil
	}
	err = finishWithRetry(ctx, s.ctrl.store, s.logger, s.run.ID, models.RunStatusFailed, runErr.Error(), responses)
	switch {
	case errors.Is(err, ErrAlreadyTerminal):
		s.logger.Info("agent run already terminal at failure")
	case err != nil:
		s.logger.Error("failed to record agent run failure", "error", err)
	}

	s.announce(ctx, bus.SignalError)
}

// announce publishes a terminal signal on both control channels so stream
// readers on any instance can wind down.
func (s *supervisor) announce(ctx context.Context, signal string) {
	channels := []string{
		bus.RunInstanceControlChannel(s.run.ID, s.ctrl.instanceID),
		bus.RunControlChannel(s.run.ID),
	}
	for _, ch := range channels {
		if err := s.ctrl.bus.Publish(ctx, ch, signal); err != nil {
			s.logger.Warn("failed to publish terminal signal",
				"signal", signal, "channel", ch, "error", err)
		}
	}
}

// subscribe opens the control subscription covering this instance's channel
// and the global channel, retrying with backoff. A nil return degrades the
// run: it cannot be stopped remotely, only by process shutdown.
func (s *supervisor) subscribe(ctx context.Context) bus.Subscription {
	channels := []string{
		bus.RunInstanceControlChannel(s.run.ID, s.ctrl.instanceID),
		bus.RunControlChannel(s.run.ID),
	}
	var lastErr error
	for attempt := 0; attempt < subscribeAttempts; attempt++ {
		if attempt > 0 {
			if retryPolicy.Sleep(ctx, attempt) != nil {
				return nil
			}
		}
		sub, err := s.ctrl.bus.Subscribe(ctx, channels...)
		if err == nil {
			return sub
		}
		lastErr = err
		s.logger.Warn("failed to subscribe to control channels", "attempt", attempt+1, "error", err)
	}
	s.logger.Error("control channels unavailable; run is not remotely stoppable", "error", lastErr)
	return nil
}

// watch sets the stop flag when STOP arrives on either control channel. The
// step loop observes the flag between events.
func (s *supervisor) watch(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if msg.Payload == bus.SignalStop {
				s.logger.Info("stop signal received", "channel", msg.Channel)
				s.stop.Store(true)
				return
			}
		}
	}
}

// refreshPresence extends the presence key TTL, re-creating the key when it
// already expired.
func (s *supervisor) refreshPresence(ctx context.Context) {
	key := bus.PresenceKey(s.ctrl.instanceID, s.run.ID)
	err := s.ctrl.bus.RefreshKey(ctx, key, s.ctrl.presence)
	if errors.Is(err, bus.ErrNotFound) {
		err = s.ctrl.bus.SetKey(ctx, key, presenceValue, s.ctrl.presence)
	}
	if err != nil {
		s.logger.Warn("failed to refresh presence key", "error", err)
	}
}

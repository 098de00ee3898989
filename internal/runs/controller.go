package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/backoff"
	"github.com/strandlabs/strand/internal/bus"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/threads"
	"github.com/strandlabs/strand/pkg/models"
)

const (
	// streamPollInterval is how often a stream reader checks a live log
	// for new events.
	streamPollInterval = 100 * time.Millisecond

	// finishAttempts bounds retries of terminal status writes.
	finishAttempts = 3

	// presenceValue marks a hosting instance in the presence registry.
	presenceValue = "running"

	defaultPresenceTTL = 5 * time.Minute
)

// retryPolicy paces status-write and subscribe retries, doubling from half a
// second.
var retryPolicy = backoff.Policy{Initial: 500 * time.Millisecond, Factor: 2}

// Options configures a Controller.
type Options struct {
	// Store persists run records.
	Store Store

	// Threads is the conversation store runs execute against.
	Threads threads.Store

	// Bus carries control signals and presence keys across instances.
	Bus bus.Bus

	// Provider produces model completions.
	Provider agent.LLMProvider

	// Registry holds the tools available to runs.
	Registry *agent.Registry

	// ProcessorConfig controls tool-call detection and execution. The
	// zero value selects the runtime defaults.
	ProcessorConfig agent.ProcessorConfig

	// SystemPrompt is sent with every completion request.
	SystemPrompt string

	// MaxIterations caps agent loop steps per run; 0 means no cap.
	MaxIterations int

	// InstanceID names this process in presence keys and instance
	// channels. Empty generates a short random id.
	InstanceID string

	// PresenceTTL is the expiry on presence keys.
	PresenceTTL time.Duration

	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.Metrics

	// Tracer is optional; nil produces non-recording spans.
	Tracer *observability.Tracer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller starts, stops, observes, and streams agent runs. One controller
// serves one process; its instance id scopes the presence keys and control
// channels of every run it hosts.
type Controller struct {
	store      Store
	threads    threads.Store
	bus        bus.Bus
	provider   agent.LLMProvider
	registry   *agent.Registry
	processor  *agent.Processor
	procCfg    agent.ProcessorConfig
	system     string
	maxSteps   int
	instanceID string
	presence   time.Duration
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger

	mu   sync.Mutex
	live map[string]*liveRun

	wg sync.WaitGroup
}

// liveRun is a run hosted by this instance: its event log plus the
// supervisor handle used for local stop requests at shutdown.
type liveRun struct {
	log *EventLog
	sup *supervisor
}

// NewController wires a controller and the response processor its runs
// share.
func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Threads == nil || opts.Bus == nil || opts.Provider == nil || opts.Registry == nil {
		return nil, fmt.Errorf("runs: store, threads, bus, provider, and registry are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.InstanceID == "" {
		opts.InstanceID = newInstanceID()
	}
	if opts.PresenceTTL <= 0 {
		opts.PresenceTTL = defaultPresenceTTL
	}
	if opts.ProcessorConfig == (agent.ProcessorConfig{}) {
		opts.ProcessorConfig = agent.DefaultProcessorConfig()
	}

	executor := agent.NewExecutor(opts.Registry, logger).WithMetrics(opts.Metrics).WithTracer(opts.Tracer)
	processor, err := agent.NewProcessor(opts.Registry, executor, opts.Threads, opts.ProcessorConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("build response processor: %w", err)
	}

	return &Controller{
		store:      opts.Store,
		threads:    opts.Threads,
		bus:        opts.Bus,
		provider:   opts.Provider,
		registry:   opts.Registry,
		processor:  processor,
		procCfg:    opts.ProcessorConfig,
		system:     opts.SystemPrompt,
		maxSteps:   opts.MaxIterations,
		instanceID: opts.InstanceID,
		presence:   opts.PresenceTTL,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     logger,
		live:       make(map[string]*liveRun),
	}, nil
}

// newInstanceID returns the short per-process name used in presence keys and
// instance channels.
func newInstanceID() string {
	return uuid.NewString()[:8]
}

// InstanceID returns the name of this process on the control plane.
func (c *Controller) InstanceID() string {
	return c.instanceID
}

// Start verifies access, stops any running predecessor in the thread's
// project, persists a new running run, and spawns its background supervisor.
func (c *Controller) Start(ctx context.Context, threadID, userID string) (*models.AgentRun, error) {
	thread, err := c.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := authorizeThread(thread, userID); err != nil {
		return nil, err
	}

	if err := c.stopProjectRuns(ctx, thread.ProjectID); err != nil {
		return nil, err
	}

	run, err := c.store.Create(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("start agent run: %w", err)
	}

	log := NewEventLog()
	sup := newSupervisor(c, run, log)
	c.mu.Lock()
	c.live[run.ID] = &liveRun{log: log, sup: sup}
	c.mu.Unlock()

	key := bus.PresenceKey(c.instanceID, run.ID)
	if err := c.bus.SetKey(ctx, key, presenceValue, c.presence); err != nil {
		// Tolerated: the run stays stoppable through the global channel.
		c.logger.Warn("failed to register presence key", "run_id", run.ID, "error", err)
	}

	c.metrics.RunStarted()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.unregister(run.ID)
		sup.supervise(context.Background())
	}()

	c.logger.Info("agent run started",
		"run_id", run.ID,
		"thread_id", threadID,
		"project_id", thread.ProjectID,
		"instance_id", c.instanceID)
	return run, nil
}

// Stop terminates a run: the record is marked stopped first so a racing
// supervisor cannot complete it afterwards, then the stop signal fans out to
// every instance that might host it. Stopping an already terminal run is a
// no-op.
func (c *Controller) Stop(ctx context.Context, runID, userID string) error {
	if _, err := c.getWithAccess(ctx, runID, userID); err != nil {
		return err
	}
	return c.stopRun(ctx, runID)
}

// Get returns a run after checking thread access.
func (c *Controller) Get(ctx context.Context, runID, userID string) (*models.AgentRun, error) {
	return c.getWithAccess(ctx, runID, userID)
}

// ListByThread returns a thread's runs, most recent first.
func (c *Controller) ListByThread(ctx context.Context, threadID, userID string) ([]*models.AgentRun, error) {
	thread, err := c.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := authorizeThread(thread, userID); err != nil {
		return nil, err
	}
	return c.store.ListByThread(ctx, threadID)
}

// Stream replays the run's event log and, while the run is hosted here,
// tails it until the supervisor exits. Runs not hosted on this instance
// replay the responses persisted on their record instead. The returned
// channel always ends with a synthetic completed status event and is closed
// when the stream is done or ctx is cancelled.
func (c *Controller) Stream(ctx context.Context, runID, userID string) (<-chan *models.Event, error) {
	run, err := c.getWithAccess(ctx, runID, userID)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.Event)
	go func() {
		defer close(out)

		log := c.liveLog(runID)
		if log == nil {
			c.replayStored(ctx, out, run)
			return
		}

		cursor := 0
		ticker := time.NewTicker(streamPollInterval)
		defer ticker.Stop()
		for {
			if !drainLog(ctx, out, log, &cursor) {
				return
			}
			if c.liveLog(runID) == nil {
				break
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
		// The supervisor exited between snapshots; flush what it appended
		// last, then terminate the stream.
		if !drainLog(ctx, out, log, &cursor) {
			return
		}
		send(ctx, out, models.NewStatusEvent(models.RunStatusCompleted, ""))
	}()
	return out, nil
}

// Shutdown signals every supervisor hosted here to stop, marks their runs
// stopped, and waits for them to exit or for ctx to expire. Presence keys
// are cleared by each supervisor's own teardown.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.live))
	for id, lr := range c.live {
		lr.sup.requestStop()
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.stopRun(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			c.logger.Warn("failed to stop run during shutdown", "run_id", id, "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("agent runs still terminating: %w", ctx.Err())
	}
}

// replayStored streams the responses recorded on a run that finished before
// the reader attached or lives on another instance. Records without
// replayable responses degrade to a status notice.
func (c *Controller) replayStored(ctx context.Context, out chan<- *models.Event, run *models.AgentRun) {
	var stored []*models.Event
	if len(run.Responses) > 0 {
		if err := json.Unmarshal(run.Responses, &stored); err != nil {
			c.logger.Warn("failed to decode stored run responses", "run_id", run.ID, "error", err)
			stored = nil
		}
	}
	if len(stored) == 0 {
		if !send(ctx, out, models.NewStatusEvent(run.Status, "Run data not available for streaming")) {
			return
		}
	} else {
		for _, ev := range stored {
			if !send(ctx, out, ev) {
				return
			}
		}
	}
	send(ctx, out, models.NewStatusEvent(models.RunStatusCompleted, ""))
}

// stopRun is the access-check-free stop path shared by Stop, predecessor
// replacement, and shutdown.
func (c *Controller) stopRun(ctx context.Context, runID string) error {
	err := finishWithRetry(ctx, c.store, c.logger, runID, models.RunStatusStopped, "", nil)
	if errors.Is(err, ErrAlreadyTerminal) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stop agent run: %w", err)
	}

	if err := c.bus.Publish(ctx, bus.RunControlChannel(runID), bus.SignalStop); err != nil {
		c.logger.Warn("failed to publish stop signal",
			"run_id", runID, "channel", "global", "error", err)
	}

	keys, err := c.bus.ScanKeys(ctx, bus.PresencePattern(runID))
	if err != nil {
		c.logger.Warn("failed to scan presence keys", "run_id", runID, "error", err)
		keys = nil
	}
	for _, key := range keys {
		instance := bus.InstanceFromPresenceKey(key)
		if instance == "" {
			continue
		}
		if err := c.bus.Publish(ctx, bus.RunInstanceControlChannel(runID, instance), bus.SignalStop); err != nil {
			c.logger.Warn("failed to publish stop signal",
				"run_id", runID, "instance", instance, "error", err)
		}
	}

	c.logger.Info("agent run stop requested", "run_id", runID, "instances", len(keys))
	return nil
}

// stopProjectRuns stops every running run whose thread belongs to the
// project, keeping at most one running run per project.
func (c *Controller) stopProjectRuns(ctx context.Context, projectID string) error {
	running, err := c.store.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("scan running agent runs: %w", err)
	}
	for _, run := range running {
		thread, err := c.threads.GetThread(ctx, run.ThreadID)
		if err != nil {
			if errors.Is(err, threads.ErrNotFound) {
				continue
			}
			return fmt.Errorf("resolve thread for run %s: %w", run.ID, err)
		}
		if thread.ProjectID != projectID {
			continue
		}
		c.logger.Info("stopping predecessor agent run", "run_id", run.ID, "project_id", projectID)
		if err := c.stopRun(ctx, run.ID); err != nil {
			return fmt.Errorf("stop predecessor run %s: %w", run.ID, err)
		}
	}
	return nil
}

func (c *Controller) getWithAccess(ctx context.Context, runID, userID string) (*models.AgentRun, error) {
	run, err := c.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	thread, err := c.threads.GetThread(ctx, run.ThreadID)
	if err != nil {
		return nil, err
	}
	if err := authorizeThread(thread, userID); err != nil {
		return nil, err
	}
	return run, nil
}

// authorizeThread enforces thread ownership. Threads without an owner are
// open to any caller.
func authorizeThread(thread *models.Thread, userID string) error {
	if thread.UserID == "" || thread.UserID == userID {
		return nil
	}
	return ErrAccessDenied
}

func (c *Controller) liveLog(runID string) *EventLog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if lr, ok := c.live[runID]; ok {
		return lr.log
	}
	return nil
}

func (c *Controller) unregister(runID string) {
	c.mu.Lock()
	delete(c.live, runID)
	c.mu.Unlock()
}

// drainLog forwards every event at or past the cursor, advancing it. A false
// return means the reader's context ended.
func drainLog(ctx context.Context, out chan<- *models.Event, log *EventLog, cursor *int) bool {
	for {
		n := log.Len()
		if *cursor >= n {
			return true
		}
		for _, ev := range log.Slice(*cursor, n) {
			if !send(ctx, out, ev) {
				return false
			}
		}
		*cursor = n
	}
}

func send(ctx context.Context, out chan<- *models.Event, ev *models.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finishWithRetry drives Store.Finish through transient failures. Definitive
// outcomes (ErrNotFound, ErrAlreadyTerminal) return immediately.
func finishWithRetry(ctx context.Context, store Store, logger *slog.Logger, id string, status models.RunStatus, errMsg string, responses json.RawMessage) error {
	var err error
	for attempt := 0; attempt < finishAttempts; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying agent run status write",
				"run_id", id, "status", status, "attempt", attempt+1, "error", err)
			if err := retryPolicy.Sleep(ctx, attempt); err != nil {
				return err
			}
		}
		err = store.Finish(ctx, id, status, errMsg, responses)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyTerminal) {
			return err
		}
	}
	return err
}

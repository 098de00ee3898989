package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/agent/providers"
	"github.com/strandlabs/strand/internal/auth"
	"github.com/strandlabs/strand/internal/bus"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/gateway"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/runs"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/internal/threads"
	"github.com/strandlabs/strand/internal/tools"
)

// shutdownTimeout bounds the graceful drain of live runs and open streams.
const shutdownTimeout = 30 * time.Second

// =============================================================================
// Serve Command Handler
// =============================================================================

// runServe implements the serve command logic.
// It handles configuration loading, component wiring, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	slog.SetDefault(logger)

	logger.Info("starting strand",
		"version", version,
		"commit", commit,
		"config", configPath,
		"debug", debug,
	)

	metrics := observability.NewMetrics()
	tracer, stopTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "strand",
		ServiceVersion: version,
		Environment:    cfg.Observability.Environment,
		Endpoint:       cfg.Observability.TracingEndpoint,
		SamplingRate:   cfg.Observability.SamplingRate,
		Insecure:       cfg.Observability.Insecure,
	})

	threadStore, runStore, db, err := openStores(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	if db != nil {
		defer db.Close()
	}
	threadStore = threads.NewTracedStore(threadStore, tracer)
	runStore = runs.NewTracedStore(runStore, tracer)

	controlBus, err := openBus(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect control bus: %w", err)
	}
	defer controlBus.Close()

	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize llm provider: %w", err)
	}

	registry, err := buildRegistry()
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	// Runs left in the running state by a previous process will never
	// produce another event; fail them before accepting new work.
	recovered, err := runs.RecoverInterrupted(ctx, runStore, logger)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted runs: %w", err)
	}
	if recovered > 0 {
		logger.Info("recovered interrupted agent runs", "count", recovered)
	}

	ctrl, err := runs.NewController(runs.Options{
		Store:           runStore,
		Threads:         threadStore,
		Bus:             controlBus,
		Provider:        provider,
		Registry:        registry,
		ProcessorConfig: processorConfig(cfg.Agent),
		SystemPrompt:    cfg.Agent.SystemPrompt,
		MaxIterations:   cfg.Agent.MaxIterations,
		PresenceTTL:     cfg.Redis.PresenceTTL,
		Metrics:         metrics,
		Tracer:          tracer,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize run controller: %w", err)
	}

	server, err := gateway.NewServer(gateway.Options{
		Addr:       fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Controller: ctrl,
		Auth:       auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		Metrics:    metrics,
		Tracer:     tracer,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	// Create a context that cancels on shutdown signals. Open SSE requests
	// inherit it, so cancelling unblocks their handlers.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}

	logger.Info("strand started",
		"addr", server.Addr(),
		"database", cfg.Database.Driver,
		"llm_provider", provider.Name(),
		"auth", cfg.Auth.JWTSecret != "",
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	// Stop live runs first so their event logs close and open streams
	// drain, then close the listener, then flush spans.
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Warn("controller shutdown incomplete", "error", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown incomplete", "error", err)
	}
	if err := stopTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown incomplete", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// loadConfig loads the named file, or the built-in defaults when no path is
// given.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// openStores builds the thread and run stores for the configured driver. The
// returned *sql.DB is nil for the memory driver and owned by the caller
// otherwise. SQL backends have pending migrations applied before use.
func openStores(ctx context.Context, cfg config.DatabaseConfig) (threads.Store, runs.Store, *sql.DB, error) {
	if cfg.Driver == "memory" {
		return threads.NewMemoryStore(), runs.NewMemoryStore(), nil, nil
	}

	db, err := store.Open(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	migrator, err := store.NewMigrator(db, cfg.Driver)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	applied, err := migrator.Up(ctx, 0)
	if err != nil {
		db.Close()
		return nil, nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		slog.Info("applied pending migrations", "count", len(applied))
	}

	if cfg.Driver == store.DriverPostgres {
		return threads.NewPostgresStore(db), runs.NewPostgresStore(db), db, nil
	}
	return threads.NewSQLiteStore(db), runs.NewSQLiteStore(db), db, nil
}

// openBus connects the control bus. Without a Redis address the in-process
// bus is used; stop signals then only reach runs hosted by this instance.
func openBus(ctx context.Context, cfg config.RedisConfig) (bus.Bus, error) {
	if cfg.Addr == "" {
		slog.Info("no redis address configured, using in-process control bus")
		return bus.NewMemoryBus(), nil
	}
	rb := bus.NewRedisBus(bus.RedisOptions{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rb.Ping(ctx); err != nil {
		rb.Close()
		return nil, err
	}
	return rb, nil
}

// buildProvider constructs the configured default LLM provider.
func buildProvider(cfg config.LLMConfig) (agent.LLMProvider, error) {
	pc := cfg.Providers[cfg.DefaultProvider]
	switch cfg.DefaultProvider {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.DefaultModel,
		})
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.DefaultProvider)
}

// buildRegistry registers the built-in interaction tools.
func buildRegistry() (*agent.Registry, error) {
	registry := agent.NewRegistry()
	for _, tool := range []agent.Tool{
		tools.NewAskTool(),
		tools.NewNotifyTool(),
		tools.NewCompleteTool(),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", tool.Name(), err)
		}
	}
	return registry, nil
}

// processorConfig maps the agent config section onto processor settings,
// keeping the runtime defaults for anything left unset.
func processorConfig(cfg config.AgentConfig) agent.ProcessorConfig {
	pc := agent.DefaultProcessorConfig()
	if cfg.MarkupToolCalling != nil {
		pc.MarkupToolCalling = *cfg.MarkupToolCalling
	}
	pc.StructuredToolCalling = cfg.StructuredToolCalling
	if cfg.ExecuteTools != nil {
		pc.ExecuteTools = *cfg.ExecuteTools
	}
	pc.ExecuteOnStream = cfg.ExecuteOnStream
	if cfg.ToolExecutionStrategy != "" {
		pc.ToolExecutionStrategy = agent.ExecutionStrategy(cfg.ToolExecutionStrategy)
	}
	if cfg.MarkupResultPlacement != "" {
		pc.MarkupResultPlacement = agent.ResultPlacement(cfg.MarkupResultPlacement)
	}
	pc.MaxMarkupToolCalls = cfg.MaxMarkupToolCalls
	return pc
}

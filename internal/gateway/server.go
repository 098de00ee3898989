// Package gateway exposes the agent-run HTTP API: run lifecycle endpoints,
// the SSE event stream, health, and Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strandlabs/strand/internal/auth"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/runs"
)

const readHeaderTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Empty means ":8080".
	Addr string

	// Controller serves every run operation behind the API.
	Controller *runs.Controller

	// Auth validates bearer and stream tokens. Nil or disabled means every
	// request runs as the anonymous user.
	Auth *auth.JWTService

	// Metrics is optional; nil disables request instrumentation.
	Metrics *observability.Metrics

	// Tracer is optional; nil produces non-recording spans.
	Tracer *observability.Tracer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP front of the run controller.
type Server struct {
	ctrl    *runs.Controller
	auth    *auth.JWTService
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger

	addr       string
	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the API server. The controller is required.
func NewServer(opts Options) (*Server, error) {
	if opts.Controller == nil {
		return nil, fmt.Errorf("gateway: controller is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addr := opts.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &Server{
		ctrl:    opts.Controller,
		auth:    opts.Auth,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  logger,
		addr:    addr,
	}, nil
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.api(mux, "POST /thread/{thread_id}/agent/start", s.handleStart)
	s.api(mux, "POST /agent-run/{agent_run_id}/stop", s.handleStop)
	s.api(mux, "GET /thread/{thread_id}/agent-runs", s.handleListRuns)
	s.api(mux, "GET /agent-run/{agent_run_id}", s.handleGetRun)
	s.api(mux, "GET /agent-run/{agent_run_id}/stream", s.handleStream)

	return mux
}

// api registers an authenticated, instrumented handler under the pattern.
func (s *Server) api(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, s.authenticate(h)))
}

// Start begins serving in the background. The listener is bound before
// returning so callers can rely on Addr().
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.httpServer = server
	s.listener = listener

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listen address, useful when Start was given ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests, including open event streams, until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

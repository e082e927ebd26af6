// Package api is the API Adapter: it exposes the HTTP surface in front of
// the run store, planner loop, approval gate, SSE streamer, and run queue,
// translating validated HTTP requests into calls against those components
// and mapping their errors to the apierr status codes.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coriolis-labs/agentrun/internal/approval"
	"github.com/coriolis-labs/agentrun/internal/auth"
	"github.com/coriolis-labs/agentrun/internal/config"
	"github.com/coriolis-labs/agentrun/internal/mcp"
	"github.com/coriolis-labs/agentrun/internal/metrics"
	"github.com/coriolis-labs/agentrun/internal/ratelimit"
	"github.com/coriolis-labs/agentrun/internal/runqueue"
	"github.com/coriolis-labs/agentrun/internal/runstore"
	"github.com/coriolis-labs/agentrun/internal/streaming"
)

// ToolDirectory is the subset of *mcp.Manager the tool-servers diagnostic
// route needs.
type ToolDirectory interface {
	Status() []mcp.ServerStatus
	AllTools() map[string][]*mcp.MCPTool
}

// ProfileDirectory is the subset of *config.Store the agent-profiles route
// needs.
type ProfileDirectory interface {
	Snapshot() *config.Snapshot
}

// Server wires the run store, planner dispatch, approval gate, streamer,
// run queue, and diagnostic directories into chi routes.
type Server struct {
	store      runstore.Store
	queue      runqueue.Queue
	dispatcher runqueue.Dispatcher
	gate       *approval.Gate
	streamer   *streaming.Streamer
	profiles   ProfileDirectory
	tools      ToolDirectory
	apiKeys    *auth.APIKeyChecker
	settings   *config.Settings
	metrics    *metrics.Metrics
	webhook    *webhookDedup
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
}

// Deps bundles the collaborators a Server needs. Queue may be
// runqueue.Unconfigured; dispatcher always runs in-process as the fallback
// path when Queue.Enqueue reports false.
type Deps struct {
	Store      runstore.Store
	Queue      runqueue.Queue
	Dispatcher runqueue.Dispatcher
	Gate       *approval.Gate
	Streamer   *streaming.Streamer
	Profiles   ProfileDirectory
	Tools      ToolDirectory
	APIKeys    *auth.APIKeyChecker
	Settings   *config.Settings
	Metrics    *metrics.Metrics
	RateLimit  *ratelimit.Config
	Logger     *slog.Logger
}

// NewServer constructs a Server from its dependencies.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queue := deps.Queue
	if queue == nil {
		queue = runqueue.Unconfigured
	}
	rlCfg := ratelimit.DefaultConfig()
	if deps.RateLimit != nil {
		rlCfg = *deps.RateLimit
	}
	return &Server{
		store:      deps.Store,
		queue:      queue,
		dispatcher: deps.Dispatcher,
		gate:       deps.Gate,
		streamer:   deps.Streamer,
		profiles:   deps.Profiles,
		tools:      deps.Tools,
		apiKeys:    deps.APIKeys,
		settings:   deps.Settings,
		metrics:    deps.Metrics,
		webhook:    newWebhookDedup(1000),
		limiter:    ratelimit.NewLimiter(rlCfg),
		logger:     logger.With("component", "api"),
	}
}

// Router builds the chi.Router serving every route in the HTTP API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Use(s.rateLimit)
		r.Post("/run", s.handleCreateRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Post("/runs/{id}/cancel", s.handleCancelRun)
		r.Post("/runs/{id}/approve", s.handleApproveRun)
		r.Post("/runs/{id}/reject", s.handleRejectRun)
	})

	r.Get("/runs/{id}/stream", s.handleStreamRun)
	r.Get("/agent-profiles", s.handleListAgentProfiles)
	r.Get("/tool-servers", s.handleListToolServers)

	r.Post("/webhooks/prometheus", s.handleWebhook)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// dispatch hands runID to the configured queue, falling back to an
// in-process goroutine when the queue is unconfigured or reports failure
// (e.g. the Redis backend is unreachable).
func (s *Server) dispatch(runID, profileID string) {
	job := runqueue.Job{RunID: runID, ProfileID: profileID}
	if s.queue.Enqueue(context.Background(), job) {
		return
	}
	go s.dispatcher.StartRun(context.Background(), runID)
}

// Command agentrund runs the run execution engine as a long-lived HTTP
// daemon: it loads the tool-server and agent-profile descriptors, connects
// the tool-server multiplexer, starts the planner dispatch (in-process or
// Redis-backed), and serves the HTTP API until SIGINT/SIGTERM.
//
// An LLM provider is not built into this binary — concrete model backends
// are an external collaborator (see pkg/llm). A deployment wires one in via
// llm.SetDefault before this package's Run is reached; without one, runs
// fail at the first planner step with an LLM error.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coriolis-labs/agentrun/internal/api"
	"github.com/coriolis-labs/agentrun/internal/approval"
	"github.com/coriolis-labs/agentrun/internal/auth"
	"github.com/coriolis-labs/agentrun/internal/config"
	"github.com/coriolis-labs/agentrun/internal/mcp"
	"github.com/coriolis-labs/agentrun/internal/metrics"
	"github.com/coriolis-labs/agentrun/internal/planner"
	"github.com/coriolis-labs/agentrun/internal/runqueue"
	"github.com/coriolis-labs/agentrun/internal/runstore"
	"github.com/coriolis-labs/agentrun/internal/streaming"
	"github.com/coriolis-labs/agentrun/pkg/llm"
)

func main() {
	var (
		addr         = flag.String("addr", envOr("HTTP_ADDR", ":8080"), "HTTP listen address")
		profilesPath = flag.String("profiles", envOr("AGENT_PROFILES_PATH", "config/agent-profiles.yaml"), "path to the agent-profile descriptor file")
		serversPath  = flag.String("servers", envOr("TOOL_SERVERS_PATH", "config/tool-servers.yaml"), "path to the tool-server descriptor file")
		debug        = flag.Bool("debug", os.Getenv("DEBUG") == "true", "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(context.Background(), *addr, *profilesPath, *serversPath, logger); err != nil {
		logger.Error("agentrund exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, profilesPath, serversPath string, logger *slog.Logger) error {
	settings := config.SettingsFromEnv()

	cfgStore, err := config.NewStore(profilesPath, serversPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfgStore.Watch(); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}
	defer cfgStore.Close()

	mcpManager := mcp.NewManager(toolServerConfig(cfgStore.Snapshot()), logger)
	if err := mcpManager.Start(ctx); err != nil {
		logger.Warn("some tool servers failed to connect at startup", "error", err)
	}
	defer mcpManager.Shutdown()

	reconnectCtx, stopReconnect := context.WithCancel(ctx)
	defer stopReconnect()
	go mcpManager.WatchReconnects(reconnectCtx, 15*time.Second)

	store, err := newRunStore(settings)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}

	plannerLoop := planner.New(store, mcpManager, cfgStore, llm.Default(), planner.Config{
		LLMTimeout:         settings.PlannerLLMTimeout(),
		ToolTimeout:        settings.PlannerToolTimeout(),
		PromptInjectFilter: settings.PromptInjectionFilterEnabled,
	}, logger)

	gate := approval.New(store, mcpManager, plannerLoop, settings.PromptInjectionFilterEnabled)
	streamer := streaming.New(store, logger)

	queue, closeQueue := newRunQueue(ctx, settings, plannerLoop, logger)
	defer closeQueue()

	apiKeys := auth.NewAPIKeyChecker(splitNonEmpty(os.Getenv("API_KEYS"), ','))
	metricsRegistry := metrics.New()

	server := api.NewServer(api.Deps{
		Store:      store,
		Queue:      queue,
		Dispatcher: plannerLoop,
		Gate:       gate,
		Streamer:   streamer,
		Profiles:   cfgStore,
		Tools:      mcpManager,
		APIKeys:    apiKeys,
		Settings:   settings,
		Metrics:    metricsRegistry,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()

	logger.Info("agentrund started", "addr", addr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), settings.GracefulShutdownTimeout())
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("agentrund stopped gracefully")
	return nil
}

func newRunStore(settings *config.Settings) (runstore.Store, error) {
	if settings.DatabaseURL == "" {
		return runstore.NewMemoryStore(), nil
	}
	return runstore.NewPostgresStore(settings.DatabaseURL, runstore.DefaultPostgresConfig())
}

// newRunQueue returns the configured Queue and a cleanup func. When
// RUN_QUEUE_URL is set it connects a Redis-backed queue and starts its
// worker loop in a background goroutine; otherwise it falls back to the
// bounded in-process pool, which hands runs to dispatcher directly.
func newRunQueue(ctx context.Context, settings *config.Settings, dispatcher runqueue.Dispatcher, logger *slog.Logger) (runqueue.Queue, func()) {
	if settings.RunQueueURL == "" {
		pool := runqueue.NewInProcessQueue(dispatcher, runqueue.DefaultInProcessConfig(), logger)
		return pool, func() { pool.Close() }
	}

	redisCfg := runqueue.DefaultRedisConfig()
	redisCfg.Addr = settings.RunQueueURL
	queue := runqueue.NewRedisQueue(redisCfg, logger)

	workerCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := queue.Run(workerCtx, dispatcher); err != nil && workerCtx.Err() == nil {
			logger.Error("run queue worker stopped", "error", err)
		}
	}()

	return queue, func() {
		cancel()
		queue.Close()
	}
}

func toolServerConfig(snap *config.Snapshot) *mcp.Config {
	cfg := &mcp.Config{Enabled: true}
	for _, desc := range snap.ToolServers {
		cfg.Servers = append(cfg.Servers, &mcp.ServerConfig{
			ID:        desc.ID,
			Name:      desc.Name,
			Transport: mcp.TransportStdio,
			Command:   desc.Command,
			Args:      desc.Args,
			Env:       desc.Env,
			AutoStart: desc.Enabled,
			Enabled:   desc.Enabled,
		})
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if s[start:i] != "" {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if s[start:] != "" {
		out = append(out, s[start:])
	}
	return out
}

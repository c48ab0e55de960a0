// Command repliq is the main entry point for the repliq query orchestration
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/repliq/internal/cache"
	"github.com/MrWong99/repliq/internal/config"
	"github.com/MrWong99/repliq/internal/health"
	"github.com/MrWong99/repliq/internal/history"
	"github.com/MrWong99/repliq/internal/observe"
	"github.com/MrWong99/repliq/internal/orchestrator"
	"github.com/MrWong99/repliq/internal/toolexec"
	"github.com/MrWong99/repliq/pkg/provider/llm"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "repliq: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "repliq: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("repliq starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── External tool servers (MCP) ───────────────────────────────────────────
	var functions llm.FunctionBackend
	var remote *toolexec.RemoteSource
	if len(cfg.MCP.Servers) > 0 {
		remote = toolexec.NewRemoteSource()
		defer func() {
			if err := remote.Close(); err != nil {
				slog.Warn("tool server close error", "err", err)
			}
		}()
		for _, srv := range cfg.MCP.Servers {
			serverCfg := toolexec.ServerConfig{
				Name:      srv.Name,
				Transport: srv.Transport,
				Command:   srv.Command,
				URL:       srv.URL,
				Env:       srv.Env,
			}
			if err := remote.RegisterServer(ctx, serverCfg); err != nil {
				slog.Error("failed to register tool server", "name", srv.Name, "err", err)
				return 1
			}
			slog.Info("registered tool server", "name", srv.Name, "transport", srv.Transport)
		}
		functions = remote
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := config.BuildProviders(cfg, config.DefaultRegistry(functions))
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Response cache ────────────────────────────────────────────────────────
	var responseCache cache.Cache
	switch cfg.Cache.Backend {
	case config.CachePostgres:
		pg, err := cache.NewPostgres(ctx, cfg.Cache.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect response cache", "err", err)
			return 1
		}
		defer pg.Close()
		responseCache = pg
	default:
		responseCache = cache.NewMemory()
	}

	// ── Tool registry + executor ──────────────────────────────────────────────
	toolRegistry := toolexec.NewRegistry()
	executor := toolexec.NewExecutor(toolRegistry,
		toolexec.WithParallelExecution(cfg.Query.ParallelTools),
		toolexec.WithParallelLimit(cfg.Query.ParallelToolLimit),
	)

	// ── Orchestrator ──────────────────────────────────────────────────────────
	opts := []orchestrator.Option{
		orchestrator.WithMetrics(metrics),
		orchestrator.WithCache(responseCache),
		orchestrator.WithTools(toolRegistry, executor),
	}
	if ttl := cfg.Cache.TTL.Std(); ttl > 0 {
		opts = append(opts, orchestrator.WithCacheTTL(ttl))
	}
	if cfg.History.MaxTokens > 0 {
		opts = append(opts, orchestrator.WithHistoryBudget(cfg.History.MaxTokens, cfg.History.PreserveRecent))
	}
	if cfg.History.Summarize {
		summarizer, err := buildSummarizer(cfg, providers)
		if err != nil {
			slog.Error("failed to build history summarizer", "err", err)
			return 1
		}
		opts = append(opts, orchestrator.WithSummarizer(summarizer))
	}
	if cfg.Query.CustomInstructions != "" {
		opts = append(opts, orchestrator.WithCustomInstructions(cfg.Query.CustomInstructions))
	}
	if d := cfg.Query.CallTimeout.Std(); d > 0 {
		opts = append(opts, orchestrator.WithCallTimeout(d))
	}
	if d := cfg.Query.FollowupTimeout.Std(); d > 0 {
		opts = append(opts, orchestrator.WithFollowupTimeout(d))
	}
	orch := orchestrator.New(providers, opts...)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, applyReload(logLevel))
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	mux := http.NewServeMux()

	checker := health.New(
		health.Providers(providers),
		health.ResponseCache(responseCache),
	)
	checker.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("POST /v1/query", handleQuery(orch))
	mux.Handle("POST /v1/query/stream", handleStreamQuery(orch))

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, listenAddr)

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", listenAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildSummarizer resolves the summary adapter named in cfg (or the default
// provider) and wraps it in an LLM summarizer.
func buildSummarizer(cfg *config.Config, providers *llm.Registry) (history.Summarizer, error) {
	name := cfg.History.SummaryProvider
	if name == "" {
		name = cfg.Providers.Default
	}
	if name == "" {
		return nil, fmt.Errorf("history.summarize requires history.summary_provider or providers.default")
	}
	adapter, err := providers.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("resolve summary provider %q: %w", name, err)
	}
	return history.NewLLMSummarizer(adapter, cfg.History.SummaryModel), nil
}

// applyReload returns the watcher callback. Only the log level is applied
// live; everything else needs a restart.
func applyReload(level *slog.LevelVar) func(old, new *config.Config) {
	return func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.HasChanges() {
			return
		}
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.CacheTTLChanged || d.HistoryChanged || d.CustomInstructionsChanged || len(d.ProviderChanges) > 0 {
			slog.Warn("config changes beyond log level require a restart to take effect")
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, listenAddr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          repliq — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, entry := range cfg.Providers.LLM {
		label := entry.BackendName()
		if entry.Model != "" {
			label += " / " + entry.Model
		}
		if len(label) > 19 {
			label = label[:16] + "…"
		}
		name := entry.Name
		if len(name) > 12 {
			name = name[:11] + "…"
		}
		fmt.Printf("║  %-12s    : %-19s ║\n", name, label)
	}
	fmt.Printf("║  Default         : %-19s ║\n", orEmpty(cfg.Providers.Default, "(first entry)"))
	fmt.Printf("║  Cache backend   : %-19s ║\n", orEmpty(string(cfg.Cache.Backend), "memory"))
	fmt.Printf("║  MCP servers     : %-19d ║\n", len(cfg.MCP.Servers))
	fmt.Printf("║  Listen addr     : %-19s ║\n", listenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func orEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the default text logger. The returned LevelVar lets the
// config watcher change verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Command medlex is the medical text normalisation and disambiguation server.
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

	"github.com/openclinika/medlex/internal/config"
	"github.com/openclinika/medlex/internal/engine"
	"github.com/openclinika/medlex/internal/health"
	"github.com/openclinika/medlex/internal/httpapi"
	"github.com/openclinika/medlex/internal/observe"
	"github.com/openclinika/medlex/internal/resilience"
)

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
			fmt.Fprintf(os.Stderr, "medlex: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "medlex: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("medlex starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sdCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Engine ────────────────────────────────────────────────────────────────
	eng, err := engine.New(ctx, cfg, config.DefaultRegistry(),
		engine.WithMetricReporter(observe.DefaultMetrics()))
	if err != nil {
		slog.Error("failed to initialise engine", "err", err)
		return 1
	}
	go eng.Run(ctx)

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.ConfigDiff) {
		applyReload(eng, d)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── HTTP server ───────────────────────────────────────────────────────────
	api := httpapi.New(eng, observe.DefaultMetrics(),
		health.Checker{Name: "rule_source", Check: func(context.Context) error {
			if eng.SourceState() == resilience.Open {
				return errors.New("dynamic rule source circuit open")
			}
			return nil
		}},
	)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, eng)

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

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

// applyReload pushes hot-reloadable config changes into the running process.
// Structural changes are logged and deferred to the next restart.
func applyReload(eng *engine.Engine, d config.ConfigDiff) {
	if d.Empty() {
		return
	}

	if d.LogLevelChanged {
		slog.SetDefault(newLogger(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.DisambiguationChanged {
		eng.SetDefaults(d.NewDisambiguation)
		slog.Info("disambiguation defaults reloaded",
			"primary_domain", d.NewDisambiguation.PrimaryDomain,
			"prefer_australian", d.NewDisambiguation.PreferAustralian,
		)
	}
	if d.KnowledgeFilesChanged || d.StaticRuleFilesChanged {
		slog.Warn("term or rule file lists changed — restart to load them")
	}
	if d.RestartRequired {
		slog.Warn("structural config change detected — restart required to apply")
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, eng *engine.Engine) {
	counts := eng.RuleCounts()
	stats := eng.DisambiguationStats()

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         medlex — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Static rules    : %-19d ║\n", counts.Static)
	fmt.Printf("║  Known terms     : %-19d ║\n", stats.KnownTerms)
	source := string(cfg.Rules.Source)
	if source == "" || cfg.Rules.Source == config.RuleSourceNone {
		source = "(static only)"
	}
	fmt.Printf("║  Rule source     : %-19s ║\n", source)
	domain := cfg.Disambiguation.PrimaryDomain
	if domain == "" {
		domain = "(none)"
	}
	fmt.Printf("║  Primary domain  : %-19s ║\n", domain)
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  TLS             : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

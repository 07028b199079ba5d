// Command susurrus is the widget server: it hosts embeddable chat widget
// sessions over WebSocket and brokers them against a chatbot backend.
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

	"github.com/susurrus-chat/susurrus/internal/config"
	"github.com/susurrus-chat/susurrus/internal/observe"
	"github.com/susurrus-chat/susurrus/internal/resilience"
	"github.com/susurrus-chat/susurrus/internal/server"
	"github.com/susurrus-chat/susurrus/pkg/backend"
	"github.com/susurrus-chat/susurrus/pkg/vad/energy"
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
			fmt.Fprintf(os.Stderr, "susurrus: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "susurrus: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("susurrus starting",
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Backend client ────────────────────────────────────────────────────────
	store := backend.NewAudioStore()
	opts := []backend.Option{backend.WithAudioStore(store)}
	if cfg.Backend.TimeoutSeconds > 0 {
		opts = append(opts, backend.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Backend.TimeoutSeconds) * time.Second,
		}))
	}
	if cfg.Backend.OpusUpload {
		opts = append(opts, backend.WithOpusUpload())
	}
	httpClient, err := backend.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.APIKey, opts...)
	if err != nil {
		slog.Error("failed to build backend client", "err", err)
		return 1
	}
	client := resilience.NewGuardedClient(httpClient, resilience.CircuitBreakerConfig{
		Name: "backend",
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level is applied live; everything else is reported so
	// operators know a restart is needed.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ServerChanged || d.BackendChanged {
			slog.Warn("server or backend configuration changed on disk, restart to apply")
		}
		if d.WidgetChanged || d.AudioChanged {
			slog.Info("widget defaults changed on disk, new sessions pick them up after restart")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Server ────────────────────────────────────────────────────────────────
	srv := server.New(*cfg, client, energy.New(), store, observe.DefaultMetrics())

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// slogLevel maps a config log level onto its slog equivalent.
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

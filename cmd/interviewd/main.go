// Command interviewd is the main entry point for the interview-assistant
// audio/ASR/dialogue server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/interviewd/interviewd/internal/config"
	"github.com/interviewd/interviewd/internal/observe"
	"github.com/interviewd/interviewd/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ─────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ───────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "interviewd: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "interviewd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("interviewd starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Observability ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "interviewd"})
	if err != nil {
		slog.Error("failed to init observability providers", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Application wiring ───────────────────────────────────────────────
	srv, err := server.New(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout())
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("observability shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// newLogger builds the process-wide structured logger from the configured
// log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

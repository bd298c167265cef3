// Command taskvoice serves the voice-driven task assistant: a WebSocket
// endpoint that bridges a client's microphone audio through the STT
// provider to the Agent Loop and back.
//
// Usage:
//
//	taskvoice serve     Start the session server
//	taskvoice version   Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/taskvoice/taskvoice/internal/agentloop"
	"github.com/taskvoice/taskvoice/internal/buildinfo"
	"github.com/taskvoice/taskvoice/internal/config"
	"github.com/taskvoice/taskvoice/internal/history"
	"github.com/taskvoice/taskvoice/internal/llm"
	"github.com/taskvoice/taskvoice/internal/session"
	"github.com/taskvoice/taskvoice/internal/task"
	"github.com/taskvoice/taskvoice/internal/tools"
	"github.com/taskvoice/taskvoice/internal/usage"
)

// main is intentionally minimal: it constructs the OS-level environment
// and delegates to run, keeping os.Exit and os.Args out of application
// logic so the full startup-to-shutdown lifecycle stays testable.
func main() {
	ctx := context.Background()
	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx controls the process lifetime;
// cancelling it triggers graceful shutdown of the session server.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	command := ""
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "taskvoice - voice-driven task assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: taskvoice <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve     Start the session server")
	fmt.Fprintln(w, "  version   Show version information")
	return nil
}

func runServe(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	logger.Info("taskvoice starting", "version", buildinfo.Version)

	taskStore, err := task.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer taskStore.Close()

	historyStore, err := history.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer historyStore.Close()

	usageStore, err := usage.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open usage store: %w", err)
	}
	defer usageStore.Close()

	llmClient := llm.NewAnthropicClient(cfg.AnthropicAPIKey, logger)
	registry := tools.NewRegistry()
	deps := tools.Deps{Tasks: taskStore, History: historyStore}

	loop := agentloop.NewLoop(llmClient, registry, deps, usageStore, cfg.Model, cfg.Pricing, logger,
		agentloop.WithMaxIterations(cfg.MaxIterations),
		agentloop.WithHistoryWindow(cfg.HistoryWindow),
	)

	srv := session.NewServer(cfg.ListenAddr, cfg.DeepgramAPIKey, loop, logger)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("taskvoice stopped")
	return nil
}

// newLogger builds the structured logger every subcommand logs through.
// format must be "text" or "json"; anything else defaults to text.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

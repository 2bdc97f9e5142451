package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"trainjob/internal/api"
	"trainjob/internal/config"
	"trainjob/internal/executor"
	"trainjob/internal/server"
	"trainjob/internal/state"
)

func main() {
	cfg := config.Load()

	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	var exec executor.Executor
	switch cfg.Executor {
	case "docker":
		var err error
		exec, err = executor.NewDockerExecutor(cfg.DockerImage)
		if err != nil {
			slog.Error("failed to create docker executor", "error", err)
			os.Exit(1)
		}
		slog.Info("using docker executor", "image", cfg.DockerImage)
	case "subprocess":
		exec = executor.NewSubprocessExecutor()
		slog.Info("using subprocess executor")
	default:
		slog.Error("unknown executor type", "executor", cfg.Executor)
		os.Exit(1)
	}

	var store state.Store
	switch cfg.Store {
	case "postgres":
		pg, err := state.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open postgres store", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(); err != nil {
			slog.Error("failed to ensure schema", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		failOrphans(pg)
		store = pg
		slog.Info("using postgres store")
	case "memory":
		store = state.NewMemoryStore()
		slog.Info("using in-memory store")
	default:
		slog.Error("unknown store type", "store", cfg.Store)
		os.Exit(1)
	}

	srv := server.New(store, exec)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down...")
		srv.Stop()
	}()

	if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// failOrphans marks jobs that were non-terminal when the previous
// daemon died. Their executors are gone, so the honest status is
// Failed with a reason, not a stuck InProgress.
func failOrphans(store state.Store) {
	jobs, err := store.ListJobs()
	if err != nil {
		slog.Error("failed to list jobs for recovery", "error", err)
		return
	}
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		if _, err := store.Transition(job.Name, api.StatusFailed, "daemon restarted during execution"); err != nil {
			slog.Error("failed to mark orphaned job", "job", job.Name, "error", err)
			continue
		}
		slog.Warn("marked orphaned job as failed", "job", job.Name)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	memhttp "github.com/fyrsmithlabs/memoryd/internal/http"
	"github.com/fyrsmithlabs/memoryd/internal/mcp"
	"github.com/fyrsmithlabs/memoryd/internal/tasks"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var host string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Start the memoryd HTTP server.

On startup the vector index is reconciled with the record store. While
running, edits made directly to record files are picked up by a filesystem
watcher when sync.watch is enabled. MCP clients can connect to /mcp.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, host)
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "address to listen on")
	return cmd
}

// runServe starts the daemon and blocks until ctx is cancelled.
//
// Startup order:
//  1. Loads configuration, logger and telemetry
//  2. Opens the record store and vector index, then reconciles them
//  3. Starts the filesystem watcher and the background worker pool
//  4. Wires the orchestrator and serves HTTP
//
// Shutdown drains HTTP first, then the worker pool, so in-flight
// maintenance still reaches the index.
func runServe(ctx context.Context, host string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg
	zl := a.logger.Underlying()

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version), zl)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	stats, err := a.syncer.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("initial reconcile: %w", err)
	}
	zl.Info("index reconciled",
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("deleted", stats.Deleted),
		zap.Int("unchanged", stats.Unchanged))

	if cfg.Sync.Watch {
		if err := a.syncer.Watch(ctx); err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
	}

	registry := telemetry.NewRegistry(a.store)
	pool := tasks.New(tasks.FromAppConfig(cfg.Workers),
		tasks.WithLogger(zl),
		tasks.WithOutcomeHook(registry.JobOutcome),
	)
	defer pool.Close()

	orch, err := a.newOrchestrator(pool)
	if err != nil {
		return err
	}

	srv, err := memhttp.NewServer(orch, a.syncer, registry.Handler(), zl, &memhttp.Config{
		Host: host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}
	mcpSrv, err := mcp.NewServer(&mcp.Config{Name: "memoryd", Version: version, Logger: zl}, orch, a.syncer)
	if err != nil {
		return fmt.Errorf("creating mcp server: %w", err)
	}
	srv.Mount("/mcp", mcpSrv.Handler())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	zl.Info("server shutdown complete")
	return nil
}

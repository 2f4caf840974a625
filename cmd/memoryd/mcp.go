package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/mcp"
	"github.com/fyrsmithlabs/memoryd/internal/tasks"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP on stdin/stdout",
		Long: `Run memoryd as an MCP server over stdio, for clients that launch
their tools as subprocesses. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(logging.NewStderrLogger)
			if err != nil {
				return err
			}
			defer a.Close()
			zl := a.logger.Underlying()

			if _, err := a.syncer.Reconcile(ctx); err != nil {
				return fmt.Errorf("initial reconcile: %w", err)
			}
			pool := tasks.New(tasks.FromAppConfig(a.cfg.Workers), tasks.WithLogger(zl))
			defer pool.Close()

			orch, err := a.newOrchestrator(pool)
			if err != nil {
				return err
			}
			srv, err := mcp.NewServer(&mcp.Config{Name: "memoryd", Version: version, Logger: zl}, orch, a.syncer)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}

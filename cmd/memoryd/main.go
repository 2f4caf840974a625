// Command memoryd runs the memory daemon and its maintenance commands.
//
// Usage:
//
//	# Start the HTTP API
//	memoryd serve
//
//	# Rebuild the vector index from the record store
//	memoryd reconcile
//
//	# Inspect what a query would retrieve
//	memoryd search --scope alice "coffee preference"
//
//	# Serve MCP over stdio
//	memoryd mcp
//
// Configuration is read from ~/.config/memoryd/config.yaml (or --config)
// and MEMORYD_* environment variables.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "memoryd",
		Short: "Long-term memory for chat models",
		Long: `memoryd stores conversation memories as plain files, keeps a vector
index of them in sync, and serves an OpenAI-compatible chat endpoint that
retrieves relevant memories before every completion.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/memoryd/config.yaml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newServeCmd(),
		newReconcileCmd(),
		newSearchCmd(),
		newEvictCmd(),
		newMCPCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "memoryd by Fyrsmith Labs\n")
	fmt.Fprintf(w, "Version:    %s\n", version)
	fmt.Fprintf(w, "Commit:     %s\n", gitCommit)
	fmt.Fprintf(w, "Build Date: %s\n", buildDate)
}

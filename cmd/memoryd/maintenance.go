package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fyrsmithlabs/memoryd/internal/eviction"
	"github.com/fyrsmithlabs/memoryd/internal/indexsync"
	"github.com/fyrsmithlabs/memoryd/internal/record"
	"github.com/fyrsmithlabs/memoryd/internal/retrieval"
	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Bring the vector index in line with the record store",
		Long: `Compare every record file against the index snapshot and embed,
re-embed or delete whatever differs. Safe to run while the server is
stopped; the server also reconciles on startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.syncer.Reconcile(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			return printStats(cmd.OutOrStdout(), stats, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print stats as JSON")
	return cmd
}

func printStats(w io.Writer, stats indexsync.Stats, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}
	_, err := fmt.Fprintf(w, "added=%d updated=%d deleted=%d unchanged=%d\n",
		stats.Added, stats.Updated, stats.Deleted, stats.Unchanged)
	return err
}

func newSearchCmd() *cobra.Command {
	var (
		scope string
		topK  int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the memories a query would retrieve",
		Example: `  memoryd search "what does the user drink"
  memoryd search --scope alice --top-k 10 "travel plans"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if scope == "" {
				scope = a.cfg.Retrieval.DefaultScope
			}
			if err := record.ValidateScope(scope); err != nil {
				return err
			}
			hits := a.retrieval.Retrieve(cmd.Context(), strings.Join(args, " "), scope, topK)
			return printHits(cmd.OutOrStdout(), hits)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope to search (default retrieval.default_scope)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of memories (default retrieval.top_k)")
	return cmd
}

func printHits(w io.Writer, hits []retrieval.Scored) error {
	if len(hits) == 0 {
		_, err := fmt.Fprintln(w, "no memories found")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tKIND\tCREATED\tCONTENT")
	for _, h := range hits {
		fmt.Fprintf(tw, "%.3f\t%s\t%s\t%s\n",
			h.Score, h.Record.Kind, h.Record.CreatedAt.Format("2006-01-02 15:04"), oneLine(h.Record.Content, 80))
	}
	return tw.Flush()
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-1]) + "…"
	}
	return s
}

func newEvictCmd() *cobra.Command {
	var maxEntries int
	cmd := &cobra.Command{
		Use:   "evict <scope>",
		Short: "Remove the oldest records of a scope over capacity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if maxEntries <= 0 {
				maxEntries = a.cfg.Eviction.MaxEntries
			}
			m := eviction.New(a.store, a.syncer, maxEntries, a.logger.Underlying())
			removed, err := m.Evict(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("evict %s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "evicted %d records from %s\n", len(removed), args[0])
			return err
		},
	}
	cmd.Flags().IntVar(&maxEntries, "max-entries", 0, "capacity bound (default eviction.max_entries)")
	return cmd
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/zjrosen/hotswap/internal/journal"
	"github.com/zjrosen/hotswap/internal/presentation"
)

var (
	journalLimit int
	journalName  string
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show recorded lifecycle events",
	Long: `Print events from the SQLite journal written while journal.enabled is on.

Examples:
  hotswap journal
  hotswap journal --limit 200
  hotswap journal --name greeter --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit := journalLimit
		if !cmd.Flags().Changed("limit") {
			limit = cfg.Journal.Retain
		}
		return showJournal(cmd.Context(), cmd.OutOrStdout(), cfg.Journal.Path, journalName, limit)
	},
}

func init() {
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "number of most recent events")
	journalCmd.Flags().StringVar(&journalName, "name", "", "only events for this script, oldest first")
	rootCmd.AddCommand(journalCmd)
}

func showJournal(ctx context.Context, w io.Writer, path, name string, limit int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if path == "" {
		return fmt.Errorf("journal.path is not set")
	}
	store, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var entries []journal.Entry
	if name != "" {
		entries, err = store.ForName(ctx, name)
	} else {
		entries, err = store.Recent(ctx, limit)
		// Recent is newest first; print in the order things happened.
		slices.Reverse(entries)
	}
	if err != nil {
		return err
	}
	return presentation.NewFormatter(w, jsonFlag).FormatEntries(presentation.FromEntries(entries))
}

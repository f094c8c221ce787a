package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/hotswap/internal/presentation"
)

var listType string

var listCmd = &cobra.Command{
	Use:   "list [dir...]",
	Short: "Load scripts once and list what registered",
	Long: `Load every script under the given directories (default: script_dirs from
the config) and print the resulting registry. Load errors are printed to stderr.

Examples:
  hotswap list
  hotswap list --type greeting ./scripts
  hotswap list --json | jq '.[].name'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listScripts(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args, listType)
	},
}

func init() {
	listCmd.Flags().StringVarP(&listType, "type", "t", "", "only list scripts with this type tag")
	rootCmd.AddCommand(listCmd)
}

func listScripts(ctx context.Context, w, errw io.Writer, dirs []string, typeTag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := newHost(cfg, dirs)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	printer := printEvents(h.engine.Events(), presentation.NewFormatter(errw, false), false)
	h.load(ctx)
	printer.Stop()

	records := h.engine.Registry().Records()
	if typeTag != "" {
		records = nil
		for _, name := range h.engine.NamesOfType(typeTag) {
			if rec, ok := h.engine.Lookup(name); ok {
				records = append(records, rec)
			}
		}
	}
	return presentation.NewFormatter(w, jsonFlag).FormatRecords(presentation.FromRecords(records))
}

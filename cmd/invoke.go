package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/hotswap/internal/presentation"
	"github.com/zjrosen/hotswap/internal/script"
)

var (
	invokeData string
	scriptDirs []string
)

var invokeCmd = &cobra.Command{
	Use:   "invoke NAME",
	Short: "Execute a script once",
	Long: `Load scripts, then execute the named script with an optional JSON data
context. Scripts that are not executable are a no-op.

Examples:
  hotswap invoke greeter
  hotswap invoke notify --data '{"user":"sam"}' --dir ./scripts`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data any
		if invokeData != "" {
			if err := json.Unmarshal([]byte(invokeData), &data); err != nil {
				return fmt.Errorf("parsing --data: %w", err)
			}
		}
		return invokeScript(cmd.Context(), cmd.ErrOrStderr(), args[0], data)
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch NAME",
	Short: "Print the value a data-producing script returns",
	Long: `Load scripts, then print the value produced by the named script.

Examples:
  hotswap fetch settings
  hotswap fetch settings --json | jq .value`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return fetchScript(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0])
	},
}

func init() {
	invokeCmd.Flags().StringVar(&invokeData, "data", "", "JSON data context passed to the script")
	for _, c := range []*cobra.Command{invokeCmd, fetchCmd} {
		c.Flags().StringArrayVar(&scriptDirs, "dir", nil, "script directory (repeatable, default: script_dirs)")
		rootCmd.AddCommand(c)
	}
}

// withLoadedHost builds a host, loads its directories with load errors going
// to errw, and runs fn.
func withLoadedHost(ctx context.Context, errw io.Writer, fn func(context.Context, *host) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := newHost(cfg, scriptDirs)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	printer := printEvents(h.engine.Events(), presentation.NewFormatter(errw, false), false)
	defer printer.Stop()

	h.load(ctx)
	return fn(ctx, h)
}

func invokeScript(ctx context.Context, errw io.Writer, name string, data any) error {
	return withLoadedHost(ctx, errw, func(ctx context.Context, h *host) error {
		rec, ok := h.engine.Lookup(name)
		if !ok {
			return fmt.Errorf("script %q: %w", name, script.ErrNotRegistered)
		}
		if !rec.Caps.Has(script.CapExecutable) {
			return fmt.Errorf("script %q is not executable (%s)", name, rec.Caps)
		}
		return h.engine.Invoke(ctx, name, data)
	})
}

func fetchScript(ctx context.Context, w, errw io.Writer, name string) error {
	return withLoadedHost(ctx, errw, func(ctx context.Context, h *host) error {
		rec, ok := h.engine.Lookup(name)
		if !ok {
			return fmt.Errorf("script %q: %w", name, script.ErrNotRegistered)
		}
		if !rec.Caps.Has(script.CapDataProducing) {
			return fmt.Errorf("script %q does not produce data (%s)", name, rec.Caps)
		}
		value, ok := h.engine.Fetch(ctx, name)
		if !ok {
			return fmt.Errorf("fetch %q failed", name)
		}
		return presentation.NewFormatter(w, jsonFlag).FormatValue(name, value)
	})
}

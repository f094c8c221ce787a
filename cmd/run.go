package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/presentation"
)

var runNoWatch bool

var runCmd = &cobra.Command{
	Use:   "run [dir...]",
	Short: "Load scripts and keep them in sync until interrupted",
	Long: `Load every script under the given directories (default: script_dirs from
the config), then watch them and hot-reload on change. Lifecycle events are
printed as they happen.

Send SIGHUP to reload every file-backed script.

Examples:
  hotswap run
  hotswap run ./scripts ./plugins
  hotswap run --no-watch --json | jq .`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(cmd.Context(), cmd.OutOrStdout(), args, !runNoWatch && cfg.Watch)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "load once and wait without watching")
	rootCmd.AddCommand(runCmd)
}

func runHost(ctx context.Context, w io.Writer, dirs []string, watch bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	h, err := newHost(cfg, dirs)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	out := presentation.NewFormatter(w, jsonFlag)
	printer := printEvents(h.engine.Events(), out, true)
	defer printer.Stop()

	if !h.load(ctx) {
		log.Warn(log.CatEngine, "some scripts failed to load")
	}
	if watch {
		if err := h.watch(); err != nil {
			return err
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info(log.CatEngine, "reloading on SIGHUP")
				h.engine.ReloadAll(ctx)
				continue
			}
			_, _ = fmt.Fprintf(os.Stderr, "\nreceived %s, shutting down\n", sig)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

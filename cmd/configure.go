package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zjrosen/hotswap/internal/config"
	"github.com/zjrosen/hotswap/internal/paths"
	"github.com/zjrosen/hotswap/internal/script"
	"github.com/zjrosen/hotswap/internal/templates"
)

var (
	initForce      bool
	initNoExamples bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file and starter scripts",
	Long: `Write the default configuration to --config, or .hotswap/config.yaml in the
current directory. An existing file is left alone unless --force is given.
Starter scripts are written to the first script directory unless
--no-examples is set; existing scripts are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := cfgFile
		if path == "" {
			path = configPath()
		}
		scriptsDir := ""
		if !initNoExamples {
			dirs := paths.ResolveScriptDirs(config.Defaults().ScriptDirs, paths.WorkingDir())
			if len(dirs) > 0 {
				scriptsDir = dirs[0]
			}
		}
		return initProject(cmd.OutOrStdout(), path, scriptsDir, initForce)
	},
}

// initProject writes the default config to path and, when scriptsDir is
// set, the starter scripts into it.
func initProject(w io.Writer, path, scriptsDir string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "wrote %s\n", path); err != nil {
		return err
	}
	if scriptsDir == "" {
		return nil
	}
	written, err := templates.WriteStarterScripts(scriptsDir)
	for _, p := range written {
		_, _ = fmt.Fprintf(w, "wrote %s\n", p)
	}
	return err
}

var addDirCmd = &cobra.Command{
	Use:   "add-dir DIR",
	Short: "Add a directory to script_dirs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := config.AddScriptDir(configPath(), cfg.ScriptDirs, args[0])
		if err != nil {
			return err
		}
		if !changed {
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s is already in script_dirs\n", args[0])
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "added %s to %s\n", args[0], configPath())
		return err
	},
}

var addExtensionCmd = &cobra.Command{
	Use:   "add-extension NAME PATH",
	Short: "Add a library path handed to every backend",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		exts := append([]script.Extension(nil), cfg.Extensions...)
		for _, ext := range exts {
			if ext.Name == args[0] {
				return fmt.Errorf("extension %q already configured (%s)", ext.Name, ext.Path)
			}
		}
		exts = append(exts, script.Extension{Name: args[0], Path: args[1]})
		if err := config.SaveExtensions(configPath(), exts); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "added extension %s\n", args[0])
		return err
	},
}

var flagCmd = &cobra.Command{
	Use:   "flag NAME on|off",
	Short: "Turn a feature flag on or off",
	Long: `Set a feature flag in the config file.

Flags:
  go-plugins    load .so files built with -buildmode=plugin
  fetch-cache   serve fetch through the TTL cache`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		if err := config.SaveFlag(configPath(), args[0], enabled); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s = %t\n", args[0], enabled)
		return err
	},
}

func parseSwitch(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
	return v, nil
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing file")
	initCmd.Flags().BoolVar(&initNoExamples, "no-examples", false, "do not write starter scripts")
	rootCmd.AddCommand(initCmd, addDirCmd, addExtensionCmd, flagCmd)
}

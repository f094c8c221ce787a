package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/hotswap/internal/config"
	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/paths"
)

var (
	version   = "dev"
	cfgFile   string
	cfg       config.Config
	cfgErr    error
	debugFlag bool
	jsonFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "hotswap",
	Short: "Load, watch and hot-reload script modules",
	Long: `hotswap loads scripts (Lua, HCL and Go plugins) from directories into a
live registry, keeps the registry in sync as files change, and lets you invoke
or fetch from registered scripts.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cfgErr != nil {
			return cfgErr
		}
		return initLogging()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .hotswap/config.yaml, then ~/.config/hotswap/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (to $HOTSWAP_LOG or ./debug.log)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false,
		"print JSON instead of text")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .hotswap/config.yaml (current directory)
		// 2. ~/.config/hotswap/config.yaml (user config)
		project := paths.ProjectConfigPath(".")
		if _, err := os.Stat(project); err == nil {
			viper.SetConfigFile(project)
		} else {
			viper.AddConfigPath(config.DefaultConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}
	viper.SetEnvPrefix("HOTSWAP")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cfgErr = fmt.Errorf("reading config: %w", err)
			return
		}
		// No config file anywhere: run on defaults.
	}

	cfg, cfgErr = config.Decode(viper.GetViper())
}

// configPath is the file config-editing commands write to.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return paths.ProjectConfigPath(".")
}

func initLogging() error {
	if !cfg.Debug && os.Getenv("HOTSWAP_DEBUG") == "" {
		return nil
	}
	logPath := os.Getenv("HOTSWAP_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	if _, err := log.Init(logPath); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log.Info(log.CatConfig, "hotswap starting", "version", version, "config", viper.ConfigFileUsed())
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

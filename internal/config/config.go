// Package config provides configuration types and defaults for hotswap.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/script"
	"github.com/zjrosen/hotswap/internal/tracing"
)

// Config holds all configuration options for hotswap.
type Config struct {
	// ScriptDirs are loaded at startup, in order.
	ScriptDirs []string `mapstructure:"script_dirs" yaml:"script_dirs"`

	// Watch arms a watcher on every script dir after the initial load.
	Watch bool `mapstructure:"watch" yaml:"watch"`

	// Debounce is the per-path settle window for watcher events.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`

	// Extensions are passed to every backend at initialization.
	Extensions []script.Extension `mapstructure:"extensions" yaml:"extensions"`

	// FetchCacheTTL caches Fetch results when the fetch-cache flag is on.
	// Zero disables the cache.
	FetchCacheTTL time.Duration `mapstructure:"fetch_cache_ttl" yaml:"fetch_cache_ttl"`

	Journal JournalConfig   `mapstructure:"journal" yaml:"journal"`
	Tracing tracing.Config  `mapstructure:"tracing" yaml:"tracing"`
	Flags   map[string]bool `mapstructure:"flags" yaml:"flags"`
	Debug   bool            `mapstructure:"debug" yaml:"debug"`
}

// JournalConfig controls the SQLite lifecycle journal.
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the database file. Default: ~/.config/hotswap/journal.db
	Path string `mapstructure:"path" yaml:"path"`

	// Retain is how many rows `journal` prints by default.
	Retain int `mapstructure:"retain" yaml:"retain"`
}

// DefaultConfigDir returns ~/.config/hotswap, or "" if the home directory is unknown.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hotswap")
}

// DefaultJournalPath returns the default journal database path.
func DefaultJournalPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "journal.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()

	return Config{
		ScriptDirs:    []string{"scripts"},
		Watch:         true,
		Debounce:      50 * time.Millisecond,
		FetchCacheTTL: 30 * time.Second,
		Journal: JournalConfig{
			Path:   DefaultJournalPath(),
			Retain: 50,
		},
		Tracing: tc,
		Flags:   map[string]bool{},
	}
}

// Validate checks the whole configuration.
func Validate(cfg Config) error {
	if cfg.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", cfg.Debounce)
	}
	if cfg.FetchCacheTTL < 0 {
		return fmt.Errorf("fetch_cache_ttl must not be negative, got %s", cfg.FetchCacheTTL)
	}
	if err := ValidateScriptDirs(cfg.ScriptDirs); err != nil {
		return err
	}
	if err := ValidateExtensions(cfg.Extensions); err != nil {
		return err
	}
	if err := ValidateJournal(cfg.Journal); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateScriptDirs rejects empty entries.
func ValidateScriptDirs(dirs []string) error {
	for i, dir := range dirs {
		if dir == "" {
			return fmt.Errorf("script_dirs[%d]: path is required", i)
		}
	}
	return nil
}

// ValidateExtensions requires a name and path on every extension and unique names.
func ValidateExtensions(exts []script.Extension) error {
	seen := make(map[string]int, len(exts))
	for i, ext := range exts {
		if ext.Name == "" {
			return fmt.Errorf("extensions[%d]: name is required", i)
		}
		if ext.Path == "" {
			return fmt.Errorf("extensions[%d] (%s): path is required", i, ext.Name)
		}
		if prev, dup := seen[ext.Name]; dup {
			return fmt.Errorf("extensions[%d] (%s): duplicate of extensions[%d]", i, ext.Name, prev)
		}
		seen[ext.Name] = i
	}
	return nil
}

// ValidateJournal checks journal configuration.
func ValidateJournal(j JournalConfig) error {
	if j.Retain < 0 {
		return fmt.Errorf("journal.retain must not be negative, got %d", j.Retain)
	}
	if j.Enabled && j.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}
	if j.Path != "" && j.Path != ":memory:" && !filepath.IsAbs(j.Path) {
		return fmt.Errorf("journal.path must be an absolute path, got %q", j.Path)
	}
	return nil
}

// ExpandPaths replaces a leading "~" with the home directory in every path
// setting.
func ExpandPaths(cfg *Config) {
	for i, dir := range cfg.ScriptDirs {
		cfg.ScriptDirs[i] = expandHome(dir)
	}
	for i := range cfg.Extensions {
		cfg.Extensions[i].Path = expandHome(cfg.Extensions[i].Path)
	}
	cfg.Journal.Path = expandHome(cfg.Journal.Path)
	cfg.Tracing.FilePath = expandHome(cfg.Tracing.FilePath)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Path requirements only matter when tracing is on.
	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# hotswap configuration

# Directories loaded at startup (relative paths resolve against the working directory)
script_dirs:
  - scripts

# Reload scripts when files under script_dirs change
watch: true

# Settle window for file events; rapid writes to one file coalesce into one reload
debounce: 50ms

# Extra library paths handed to every backend
#   lua: appended to package.path (<path>/?.lua)
#   hcl: every *.hcl file's locals become local.<name> in scripts
# extensions:
#   - name: shared
#     path: /opt/hotswap/lib

# Cache Fetch results (requires the fetch-cache flag, on by default); 0 disables
fetch_cache_ttl: 30s

# Lifecycle journal
# journal:
#   enabled: false      # default: false
#   path: ~/.config/hotswap/journal.db
#   retain: 50          # rows printed by 'hotswap journal'

# Tracing of load and reload work
# tracing:
#   enabled: false                 # default: false
#   exporter: file                 # none, file, stdout, otlp (default: file)
#   file_path: ~/.config/hotswap/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

# Feature flags
# flags:
#   go-plugins: false   # load .so files built with -buildmode=plugin
#   fetch-cache: true   # serve Fetch through the TTL cache
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", configPath)
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

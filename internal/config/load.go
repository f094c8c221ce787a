package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/zjrosen/hotswap/internal/script"
)

// SetDefaults registers Defaults() on v so unset keys decode to them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("script_dirs", d.ScriptDirs)
	v.SetDefault("watch", d.Watch)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("fetch_cache_ttl", d.FetchCacheTTL)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("journal.retain", d.Journal.Retain)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("debug", d.Debug)
}

// Decode unmarshals v, expands "~" in paths and validates the result.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if cfg.Flags == nil {
		cfg.Flags = map[string]bool{}
	}
	ExpandPaths(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isNotExist(err) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}
	return Decode(v)
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToExtensionHook,
	)
}

// stringToExtensionHook accepts "name=path" wherever an extension is
// expected, so HOTSWAP_EXTENSIONS=lib=/opt/lib works from the environment.
func stringToExtensionHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(script.Extension{}) {
		return data, nil
	}
	raw := strings.TrimSpace(data.(string))
	name, path, ok := strings.Cut(raw, "=")
	if !ok {
		return nil, fmt.Errorf("extension %q: want name=path", raw)
	}
	return script.Extension{Name: strings.TrimSpace(name), Path: strings.TrimSpace(path)}, nil
}

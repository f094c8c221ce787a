// Package flags holds read-only feature switches loaded from configuration.
// Unknown flags read as disabled.
package flags

import (
	"maps"
	"slices"

	"github.com/zjrosen/hotswap/internal/log"
)

const (
	// FlagGoPlugins enables the goplugin backend (.so files).
	FlagGoPlugins = "go-plugins"

	// FlagFetchCache serves Fetch through the TTL cache.
	FlagFetchCache = "fetch-cache"
)

// Defaults returns the built-in flag values. Everything starts disabled
// except the fetch cache.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagGoPlugins:  false,
		FlagFetchCache: true,
	}
}

// Registry holds feature flag state.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from Defaults overlaid with flags.
func New(flags map[string]bool) *Registry {
	merged := Defaults()
	maps.Copy(merged, flags)
	r := &Registry{flags: merged}
	log.Debug(log.CatConfig, "feature flags initialized", "flags", r.All())
	return r
}

// Enabled reports whether name is on. Unknown flags and a nil registry
// report false.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	value, ok := r.flags[name]
	if !ok {
		log.Debug(log.CatConfig, "unknown flag accessed", "flag", name)
		return false
	}
	return value
}

// All returns a copy of every flag.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return map[string]bool{}
	}
	return maps.Clone(r.flags)
}

// Names returns the flag names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(r.flags))
}

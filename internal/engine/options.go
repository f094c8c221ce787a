package engine

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/hotswap/internal/registry"
	"github.com/zjrosen/hotswap/internal/watcher"
)

// Option configures an Engine.
type Option func(*Engine)

// WithEvents publishes on events instead of a private set. The caller keeps
// ownership and closes them.
func WithEvents(events *registry.Events) Option {
	return func(e *Engine) {
		e.events = events
		e.ownsEvents = false
	}
}

// WithTracer records spans on tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithDebounce sets the watcher debounce window.
func WithDebounce(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.debounce = d
		}
	}
}

// WithFetchCache caches Fetch results for ttl. Zero disables the cache.
//
// An entry is dropped when its script is registered again or unregistered,
// but not when some other Invoke changes state the value was computed from.
// With the cache on, Fetch may return a value up to ttl old.
func WithFetchCache(ttl time.Duration) Option {
	return func(e *Engine) {
		e.cacheTTL = ttl
	}
}

// WithRegistryOptions passes options through to the registry.
func WithRegistryOptions(opts ...registry.Option) Option {
	return func(e *Engine) {
		e.regOpts = append(e.regOpts, opts...)
	}
}

func defaultDebounce() time.Duration {
	return watcher.DefaultConfig("").Debounce
}

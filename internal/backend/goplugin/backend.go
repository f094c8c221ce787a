// Package goplugin loads scripts compiled with -buildmode=plugin.
//
// A plugin exports
//
//	func Register() script.Instance
//
// Go cannot unload plugins: a reload opens the new file and the old code
// stays mapped until the process exits. A plugin file whose path was already
// opened is served from the runtime's cache, so edits to a .so must land at a
// new path (or the process must restart) to take effect.
package goplugin

import (
	"context"
	"fmt"
	"plugin"
	"sync"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/script"
)

const (
	// Name is the backend name.
	Name = "goplugin"
	// Symbol is the function every plugin must export.
	Symbol = "Register"
)

// Opener abstracts plugin.Open so the symbol contract can be tested
// without building shared objects.
type Opener func(path string) (Lookuper, error)

// Lookuper is the part of *plugin.Plugin the backend uses.
type Lookuper interface {
	Lookup(symName string) (plugin.Symbol, error)
}

func openPlugin(path string) (Lookuper, error) {
	return plugin.Open(path)
}

// Backend loads .so files.
type Backend struct {
	open Opener

	mu     sync.Mutex
	opened map[string]int
}

// Option configures a Backend.
type Option func(*Backend)

// WithOpener replaces plugin.Open.
func WithOpener(open Opener) Option {
	return func(b *Backend) {
		b.open = open
	}
}

// New creates a Go plugin backend.
func New(opts ...Option) *Backend {
	b := &Backend{open: openPlugin, opened: make(map[string]int)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string         { return Name }
func (b *Backend) Extensions() []string { return []string{".so"} }

// Initialize accepts no extensions: plugins resolve symbols through the host binary.
func (b *Backend) Initialize(exts []script.Extension) error {
	for _, ext := range exts {
		if ext.Path != "" {
			log.Debug(log.CatBackend, "goplugin ignores extension path", "extension", ext.Name)
		}
	}
	return nil
}

func (b *Backend) LoadFile(ctx context.Context, path string) (inst script.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %s panicked: %v", path, Symbol, r)
		}
	}()

	p, err := b.open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}

	b.mu.Lock()
	b.opened[path]++
	n := b.opened[path]
	b.mu.Unlock()
	if n > 1 {
		log.Warn(log.CatBackend, "plugin reopened; the runtime may return the previously loaded code", "path", path)
	}

	sym, err := p.Lookup(Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, script.ErrNotRegistered, err)
	}

	var register func() script.Instance
	switch fn := sym.(type) {
	case func() script.Instance:
		register = fn
	case *func() script.Instance:
		register = *fn
	default:
		return nil, fmt.Errorf("%s: %w: %s has type %T, want func() script.Instance", path, script.ErrInvalidInstance, Symbol, sym)
	}

	inst = register()
	if inst == nil {
		return nil, fmt.Errorf("%s: %w", path, script.ErrNotRegistered)
	}
	return inst, nil
}

// LoadSource is unsupported: plugins must be compiled ahead of time.
func (b *Backend) LoadSource(ctx context.Context, src string) (script.Instance, error) {
	return nil, fmt.Errorf("%w: goplugin cannot load inline source", script.ErrUnsupported)
}

func (b *Backend) Close() error { return nil }

var _ script.Backend = (*Backend)(nil)

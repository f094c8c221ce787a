package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/hotswap/internal/backend"
	"github.com/zjrosen/hotswap/internal/backend/goplugin"
	"github.com/zjrosen/hotswap/internal/backend/hcl"
	"github.com/zjrosen/hotswap/internal/backend/lua"
	"github.com/zjrosen/hotswap/internal/config"
	"github.com/zjrosen/hotswap/internal/engine"
	"github.com/zjrosen/hotswap/internal/flags"
	"github.com/zjrosen/hotswap/internal/journal"
	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/paths"
	"github.com/zjrosen/hotswap/internal/script"
	"github.com/zjrosen/hotswap/internal/tracing"
)

// host owns everything one command needs: the engine with its backends,
// plus the optional journal and tracer.
type host struct {
	engine  *engine.Engine
	flags   *flags.Registry
	tracer  *tracing.Provider
	journal *journal.Store
	detach  func()
	dirs    []string
}

// newHost builds and initializes an engine from c. dirs override
// c.ScriptDirs when non-empty.
func newHost(c config.Config, dirs []string) (*host, error) {
	ff := flags.New(c.Flags)

	backends := []script.Backend{lua.New(), hcl.New()}
	if ff.Enabled(flags.FlagGoPlugins) {
		backends = append(backends, goplugin.New())
	}
	mux, err := backend.NewMux(backends...)
	if err != nil {
		return nil, err
	}

	tp, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracer: %w", err)
	}

	opts := []engine.Option{
		engine.WithDebounce(c.Debounce),
		engine.WithTracer(tp.Tracer()),
	}
	if ff.Enabled(flags.FlagFetchCache) && c.FetchCacheTTL > 0 {
		opts = append(opts, engine.WithFetchCache(c.FetchCacheTTL))
	}
	eng, err := engine.New(mux, opts...)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}

	if len(dirs) == 0 {
		dirs = c.ScriptDirs
	}
	h := &host{
		engine: eng,
		flags:  ff,
		tracer: tp,
		dirs:   paths.ResolveScriptDirs(dirs, paths.WorkingDir()),
	}

	if c.Journal.Enabled {
		store, err := journal.Open(c.Journal.Path)
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		h.journal = store
		h.detach = journal.Attach(store, eng.Events())
	}

	if err := eng.Initialize(c.Extensions...); err != nil {
		_ = h.Close()
		return nil, err
	}
	log.Info(log.CatEngine, "host ready", "dirs", h.dirs, "backends", mux.Extensions(), "journal", h.journal != nil)
	return h, nil
}

// load loads every script directory. Reports whether everything loaded.
func (h *host) load(ctx context.Context) bool {
	ok := true
	for _, dir := range h.dirs {
		if !h.engine.LoadDirectory(ctx, dir) {
			ok = false
		}
	}
	return ok
}

// watch arms a watcher on every script directory.
func (h *host) watch() error {
	var errs []error
	for _, dir := range h.dirs {
		if err := h.engine.ArmWatcher(dir); err != nil {
			errs = append(errs, fmt.Errorf("watch %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// Close disposes the engine, then flushes the journal and tracer.
func (h *host) Close() error {
	var errs []error
	if err := h.engine.Dispose(); err != nil {
		errs = append(errs, err)
	}
	if h.detach != nil {
		h.detach()
	}
	if h.journal != nil {
		if err := h.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.tracer.Shutdown(context.Background()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

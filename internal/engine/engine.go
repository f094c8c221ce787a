// Package engine loads scripts from files and inline source into a registry
// and keeps the registry in sync with watched directories.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/hotswap/internal/backend"
	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/registry"
	"github.com/zjrosen/hotswap/internal/script"
	"github.com/zjrosen/hotswap/internal/tracing"
	"github.com/zjrosen/hotswap/internal/watcher"
)

// Engine is the script registry's public surface.
type Engine struct {
	reg        *registry.Registry
	regOpts    []registry.Option
	events     *registry.Events
	ownsEvents bool
	backends   *backend.Mux
	tracer     trace.Tracer
	debounce   time.Duration

	cacheTTL time.Duration
	fetch    *fetchCache

	mu       sync.Mutex
	exts     script.ExtensionSet
	watchers map[string]*watcher.Watcher
	disposed bool
}

// New creates an engine loading files through b. A *backend.Mux is used as
// is; any other backend is wrapped in one.
func New(b script.Backend, opts ...Option) (*Engine, error) {
	mux, ok := b.(*backend.Mux)
	if !ok {
		var err error
		if mux, err = backend.NewMux(b); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		events:     registry.NewEvents(),
		ownsEvents: true,
		backends:   mux,
		tracer:     tracing.Noop().Tracer(),
		debounce:   defaultDebounce(),
		watchers:   make(map[string]*watcher.Watcher),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reg = registry.New(e.events, e.regOpts...)

	if e.cacheTTL > 0 {
		e.fetch = newFetchCache(e.reg, e.events, e.cacheTTL)
	}
	return e, nil
}

// Registry returns the underlying registry.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Events returns the four event channels.
func (e *Engine) Events() *registry.Events { return e.events }

// Backends returns the backend multiplexer.
func (e *Engine) Backends() *backend.Mux { return e.backends }

// Extensions returns the extensions accumulated by Initialize.
func (e *Engine) Extensions() []script.Extension {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exts.List()
}

func (e *Engine) checkDisposed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return ErrDisposed
	}
	return nil
}

// Initialize resets the registry and (re)initializes every backend with the
// accumulated extension set. Extensions are append-only: exts is added to
// what earlier calls supplied, ignoring duplicates.
func (e *Engine) Initialize(exts ...script.Extension) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	for _, ext := range exts {
		e.exts.Add(ext)
	}
	all := e.exts.List()
	e.mu.Unlock()

	e.reg.Clear()
	if e.fetch != nil {
		e.fetch.reset()
	}

	if err := e.backends.Initialize(all); err != nil {
		err = fmt.Errorf("initialize backends: %w", err)
		e.events.Error(err)
		return err
	}
	log.Info(log.CatEngine, "engine initialized", "backends", e.backends.Extensions(), "extensions", len(all))
	return nil
}

// LoadOne loads path through its backend and installs the result as the
// record backed by path. The backend runs without any registry lock held;
// the record previously backed by path is only replaced once the new
// instance is ready, so a failed load leaves it in place.
func (e *Engine) LoadOne(ctx context.Context, path string) error {
	if err := e.checkDisposed(); err != nil {
		return err
	}
	path = absPath(path)

	ctx, span := tracing.Start(ctx, e.tracer, tracing.SpanLoadFile, attribute.String(tracing.AttrScriptPath, path))
	err := e.loadOne(ctx, span, path)
	tracing.End(span, err)
	return err
}

func (e *Engine) loadOne(ctx context.Context, span trace.Span, path string) error {
	b, ok := e.backends.For(path)
	if !ok {
		err := &LoadError{Path: path, Err: script.ErrNoBackend}
		e.events.Error(err)
		return err
	}
	span.SetAttributes(attribute.String(tracing.AttrScriptBackend, b.Name()))

	inst, err := callBackend(func() (script.Instance, error) { return b.LoadFile(ctx, path) })
	if err == nil && inst == nil {
		err = script.ErrNotRegistered
	}
	if err != nil {
		lerr := &LoadError{Path: path, Backend: b.Name(), Err: err}
		e.events.Error(lerr)
		return lerr
	}

	_, replaced := e.reg.NameForPath(path)
	rec, err := e.reg.ReplacePath(path, inst, b.Name())
	if err != nil {
		// The registry already published the failure.
		return &LoadError{Path: path, Backend: b.Name(), Err: err}
	}

	event := tracing.EventRegistered
	if replaced {
		event = tracing.EventReplaced
	}
	span.AddEvent(event, trace.WithAttributes(
		attribute.String(tracing.AttrScriptName, rec.Name),
		attribute.String(tracing.AttrScriptType, rec.TypeTag),
	))
	log.Debug(log.CatEngine, "loaded", "path", path, "name", rec.Name, "backend", b.Name(), "replaced", replaced)
	return nil
}

// LoadSource loads inline source with the backend named by lang (a backend
// name or file extension). An empty lang works when there is one backend.
// The resulting record has no source path.
func (e *Engine) LoadSource(ctx context.Context, src, lang string) (registry.Record, error) {
	if err := e.checkDisposed(); err != nil {
		return registry.Record{}, err
	}

	ctx, span := tracing.Start(ctx, e.tracer, tracing.SpanLoadSource, attribute.String(tracing.AttrScriptBackend, lang))
	rec, err := e.loadSource(ctx, src, lang)
	tracing.End(span, err)
	return rec, err
}

func (e *Engine) loadSource(ctx context.Context, src, lang string) (registry.Record, error) {
	var b script.Backend = e.backends
	if lang != "" {
		found, ok := e.backends.Lookup(lang)
		if !ok {
			err := &LoadError{Err: fmt.Errorf("%w for language %q", script.ErrNoBackend, lang)}
			e.events.Error(err)
			return registry.Record{}, err
		}
		b = found
	}

	inst, err := callBackend(func() (script.Instance, error) { return b.LoadSource(ctx, src) })
	if err == nil && inst == nil {
		err = script.ErrNotRegistered
	}
	if err != nil {
		lerr := &LoadError{Backend: b.Name(), Err: err}
		e.events.Error(lerr)
		return registry.Record{}, lerr
	}

	rec, err := e.reg.Register(inst)
	if err != nil {
		return registry.Record{}, &LoadError{Backend: b.Name(), Err: err}
	}
	return rec, nil
}

// LoadDirectory loads every file under root, breadth first. Files no backend
// handles are skipped. A directory that cannot be listed is reported on
// Error and its subtree skipped. Returns true only if every listing and
// every load succeeded.
func (e *Engine) LoadDirectory(ctx context.Context, root string) bool {
	if err := e.checkDisposed(); err != nil {
		e.events.Error(err)
		return false
	}
	root = absPath(root)

	ctx, span := tracing.Start(ctx, e.tracer, tracing.SpanLoadDirectory, attribute.String(tracing.AttrRoot, root))

	ok := true
	files, failed := 0, 0
	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			ok = false
			err = fmt.Errorf("list %s: %w", dir, err)
			span.AddEvent(tracing.EventListingError, trace.WithAttributes(attribute.String(tracing.AttrScriptPath, dir)))
			e.events.Error(err)
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				queue = append(queue, path)
				continue
			}
			if !e.backends.Supports(path) {
				span.AddEvent(tracing.EventSkipped, trace.WithAttributes(attribute.String(tracing.AttrScriptPath, path)))
				log.Debug(log.CatEngine, "skipping file without backend", "path", path)
				continue
			}
			files++
			if err := e.LoadOne(ctx, path); err != nil {
				ok = false
				failed++
			}
		}
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrFileCount, files),
		attribute.Int(tracing.AttrFailedCount, failed),
	)
	var spanErr error
	if !ok {
		spanErr = fmt.Errorf("%d of %d files failed", failed, files)
	}
	tracing.End(span, spanErr)

	log.Info(log.CatEngine, "directory loaded", "root", root, "files", files, "failed", failed)
	return ok
}

// ReloadAll reloads every record that came from a file. Each path is
// reloaded independently; a failure is reported on Error and the rest still
// run. A path whose file is gone is unregistered. Returns true if every
// reload succeeded.
func (e *Engine) ReloadAll(ctx context.Context) bool {
	if err := e.checkDisposed(); err != nil {
		e.events.Error(err)
		return false
	}

	sourced := e.reg.Sourced()
	ctx, span := tracing.Start(ctx, e.tracer, tracing.SpanReloadAll, attribute.Int(tracing.AttrFileCount, len(sourced)))

	ok := true
	failed := 0
	for _, rec := range sourced {
		if err := e.reload(ctx, rec.SourcePath); err != nil {
			ok = false
			failed++
		}
	}

	span.SetAttributes(attribute.Int(tracing.AttrFailedCount, failed))
	var spanErr error
	if !ok {
		spanErr = fmt.Errorf("%d of %d reloads failed", failed, len(sourced))
	}
	tracing.End(span, spanErr)
	return ok
}

// reload loads path again, or drops its record if the file no longer exists.
func (e *Engine) reload(ctx context.Context, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		e.forget(path)
		return nil
	}
	return e.LoadOne(ctx, path)
}

// forget unregisters the record backed by path, or every record below path
// when it was a directory. Unknown paths are ignored.
func (e *Engine) forget(path string) {
	if name, ok := e.reg.UnregisterPath(path); ok {
		log.Debug(log.CatEngine, "source removed", "path", path, "name", name)
		return
	}
	prefix := path + string(filepath.Separator)
	for _, rec := range e.reg.Sourced() {
		if hasPrefix(rec.SourcePath, prefix) {
			e.reg.UnregisterPath(rec.SourcePath)
		}
	}
}

// move points records at newPath after a rename, or every record below
// oldPath when a directory moved. Reports whether anything moved.
func (e *Engine) move(oldPath, newPath string) bool {
	if e.reg.Rename(oldPath, newPath) {
		return true
	}
	prefix := oldPath + string(filepath.Separator)
	moved := false
	for _, rec := range e.reg.Sourced() {
		if hasPrefix(rec.SourcePath, prefix) {
			target := filepath.Join(newPath, rec.SourcePath[len(prefix):])
			moved = e.reg.Rename(rec.SourcePath, target) || moved
		}
	}
	return moved
}

// ArmWatcher starts watching root. Changes are applied to the registry until
// Dispose. Arming an already watched root is a no-op.
func (e *Engine) ArmWatcher(root string) error {
	root = absPath(root)

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	if _, ok := e.watchers[root]; ok {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	cfg := watcher.DefaultConfig(root)
	cfg.Debounce = e.debounce
	cfg.Filter = e.backends.Supports

	w, err := watcher.New(cfg, &watchHandler{engine: e, root: root})
	if err != nil {
		e.events.Error(err)
		return err
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		e.events.Error(err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		go func() { _ = w.Stop() }()
		return ErrDisposed
	}
	if _, raced := e.watchers[root]; raced {
		go func() { _ = w.Stop() }()
		return nil
	}
	e.watchers[root] = w
	return nil
}

// Watching returns the watched roots.
func (e *Engine) Watching() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	roots := make([]string, 0, len(e.watchers))
	for root := range e.watchers {
		roots = append(roots, root)
	}
	return roots
}

// Register installs an inline instance.
func (e *Engine) Register(inst script.Instance) (registry.Record, error) {
	if err := e.checkDisposed(); err != nil {
		return registry.Record{}, err
	}
	return e.reg.Register(inst)
}

// Unregister removes name. Returns false, with a Warning, if it is absent.
func (e *Engine) Unregister(name string) bool {
	return e.reg.Unregister(name)
}

// Lookup returns the record registered under name.
func (e *Engine) Lookup(name string) (registry.Record, bool) {
	return e.reg.Lookup(name)
}

// NamesOfType returns a snapshot of the names registered under tag.
func (e *Engine) NamesOfType(tag string) []string {
	return e.reg.NamesOfType(tag)
}

// Invoke executes the named script.
func (e *Engine) Invoke(ctx context.Context, name string, dataContext any) error {
	return e.reg.Invoke(ctx, name, dataContext)
}

// Fetch returns the value of the named data-producing script, from the
// fetch cache when one is configured.
func (e *Engine) Fetch(ctx context.Context, name string) (any, bool) {
	if e.fetch != nil {
		return e.fetch.get(ctx, name)
	}
	return e.reg.Fetch(ctx, name)
}

// Dispose stops every watcher, unregisters every script and closes the
// backends. Events published during disposal may not reach subscribers of
// engine-owned channels. Dispose is idempotent.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return nil
	}
	e.disposed = true
	watchers := e.watchers
	e.watchers = make(map[string]*watcher.Watcher)
	e.mu.Unlock()

	var errs []error
	for root, w := range watchers {
		if err := w.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop watcher %s: %w", root, err))
		}
	}

	if e.fetch != nil {
		e.fetch.close()
	}
	e.reg.Clear()

	if err := e.backends.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.ownsEvents {
		e.events.Close()
	}

	log.Info(log.CatEngine, "engine disposed")
	return errors.Join(errs...)
}

// callBackend runs fn, converting a panic into an error.
func callBackend(fn func() (script.Instance, error)) (inst script.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("backend panic: %v", r)
		}
	}()
	return fn()
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func hasPrefix(path, prefix string) bool {
	return len(path) > len(prefix) && path[:len(prefix)] == prefix
}

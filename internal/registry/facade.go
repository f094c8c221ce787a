package registry

import (
	"context"
	"fmt"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/script"
)

// Compile-time check that Registry can be handed to instances as their host.
var _ script.Host = (*Registry)(nil)

// acquire looks up name and takes the entry's execution lock in shared mode.
// The caller must release it with e.exec.RUnlock.
func (r *Registry) acquire(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.records[name]
	if !ok {
		return nil, false
	}
	e.exec.RLock()
	return e, true
}

// Invoke runs the named script with dataContext if it is executable.
// Invoking a non-executable script is a no-op. An unknown name produces a
// Warning. Errors returned by the script are published on Error and returned.
func (r *Registry) Invoke(ctx context.Context, name string, dataContext any) error {
	e, ok := r.acquire(name)
	if !ok {
		r.events.Warn("No script named %s registered", name)
		return nil
	}
	defer e.exec.RUnlock()

	if !e.rec.Caps.Has(script.CapExecutable) {
		log.Debug(log.CatRegistry, "invoke on non-executable script ignored", "name", name, "caps", e.rec.Caps)
		return nil
	}

	exe := e.rec.Instance.(script.Executable)
	var err error
	if hookErr := callHook(func() { err = exe.Execute(ctx, dataContext) }); hookErr != nil {
		err = hookErr
	}
	if err != nil {
		err = fmt.Errorf("execute %s: %w", name, err)
		r.events.Error(err)
		return err
	}
	return nil
}

// Fetch returns the value produced by the named script if it is data-producing.
// It returns (nil, false) for unknown, non-data-producing or failing scripts.
func (r *Registry) Fetch(ctx context.Context, name string) (any, bool) {
	e, ok := r.acquire(name)
	if !ok {
		r.events.Warn("No script named %s registered", name)
		return nil, false
	}
	defer e.exec.RUnlock()

	if !e.rec.Caps.Has(script.CapDataProducing) {
		log.Debug(log.CatRegistry, "fetch on non-data script ignored", "name", name, "caps", e.rec.Caps)
		return nil, false
	}

	producer := e.rec.Instance.(script.DataProducer)
	var (
		value any
		err   error
	)
	if hookErr := callHook(func() { value, err = producer.Data(ctx) }); hookErr != nil {
		err = hookErr
	}
	if err != nil {
		r.events.Error(fmt.Errorf("fetch %s: %w", name, err))
		return nil, false
	}
	return value, true
}

package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/script"
)

// Registry errors
var (
	ErrNilInstance = errors.New("script instance cannot be nil")
	ErrEmptyName   = errors.New("script instance has an empty name")
)

// Registry is the authoritative name -> record store.
//
// One RWMutex guards the record map, the type index and the path index
// together, so a name-existence check and the index updates that follow it
// are atomic. Backend work never happens under this lock.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*entry
	types   *TypeIndex
	paths   map[string]string // sourcePath -> name

	events *Events
	host   script.Host
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithHost overrides the handle passed to OnRegistered hooks.
// By default instances receive the Registry itself.
func WithHost(h script.Host) Option {
	return func(r *Registry) {
		r.host = h
	}
}

// WithClock overrides the time source used for RegisteredAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates an empty registry publishing on events.
// If events is nil a private set of channels is created.
func New(events *Events, opts ...Option) *Registry {
	if events == nil {
		events = NewEvents()
	}
	r := &Registry{
		records: make(map[string]*entry),
		types:   NewTypeIndex(),
		paths:   make(map[string]string),
		events:  events,
		now:     time.Now,
	}
	r.host = r
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Events returns the registry's event channels.
func (r *Registry) Events() *Events {
	return r.events
}

// Register inserts inst under its name. Its OnRegistered hook runs first, then
// an existing record with the same name is unregistered (Warning, then
// Unregistered), the new record is inserted and indexed and Registered is
// published. The whole sequence is one critical section.
//
// The instance is validated and its hook run before any existing record is
// touched, so a rejected instance never evicts the record it would have
// replaced.
func (r *Registry) Register(inst script.Instance) (Record, error) {
	return r.install(inst, "", "")
}

// ReplacePath installs inst as the record backed by path. Whatever record
// currently owns path is unregistered first, in the same critical section.
func (r *Registry) ReplacePath(path string, inst script.Instance, backend string) (Record, error) {
	return r.install(inst, path, backend)
}

func validate(inst script.Instance) (name, tag string, err error) {
	if inst == nil {
		return "", "", ErrNilInstance
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panicked: %v", script.ErrInvalidInstance, p)
		}
	}()
	name = inst.Name()
	if name == "" {
		return "", "", ErrEmptyName
	}
	return name, inst.TypeTag(), nil
}

func (r *Registry) install(inst script.Instance, path, backend string) (Record, error) {
	name, tag, err := validate(inst)
	if err != nil {
		err = fmt.Errorf("register: %w", err)
		r.events.Error(err)
		return Record{}, err
	}

	rec := Record{
		ID:         uuid.NewString(),
		Name:       name,
		TypeTag:    tag,
		SourcePath: path,
		Backend:    backend,
		Caps:       script.CapabilitiesOf(inst),
		Instance:   inst,
	}

	r.mu.Lock()
	// The hook runs before anything is evicted so a failing instance leaves
	// the registry as it found it.
	if hookErr := callHook(func() { inst.OnRegistered(r.host) }); hookErr != nil {
		r.mu.Unlock()
		err := fmt.Errorf("register %s: OnRegistered: %w", name, hookErr)
		r.events.Error(err)
		return Record{}, err
	}

	var retired []*entry
	if path != "" {
		if owner, ok := r.paths[path]; ok {
			retired = append(retired, r.removeLocked(owner))
		}
	}
	if _, exists := r.records[name]; exists {
		r.events.Warn("Script %s being unregistered and overwritten", name)
		retired = append(retired, r.removeLocked(name))
	}

	rec.RegisteredAt = r.now()
	r.records[name] = &entry{rec: rec}
	r.types.Add(rec.TypeTag, name)
	if path != "" {
		r.paths[path] = name
	}
	r.events.registered(rec)
	r.mu.Unlock()

	log.Debug(log.CatRegistry, "registered script", "name", name, "type", rec.TypeTag, "path", path, "caps", rec.Caps)
	r.retire(retired)
	return rec, nil
}

// Unregister removes name. Returns false, with a Warning, if name is absent.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	if _, ok := r.records[name]; !ok {
		r.mu.Unlock()
		r.events.Warn("Unable to unregister name %s, does not exist", name)
		return false
	}
	removed := r.removeLocked(name)
	r.mu.Unlock()

	r.retire([]*entry{removed})
	return true
}

// UnregisterPath removes the record backed by path, if any.
// A path with no record is a benign race and produces no event.
func (r *Registry) UnregisterPath(path string) (string, bool) {
	r.mu.Lock()
	name, ok := r.paths[path]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	removed := r.removeLocked(name)
	r.mu.Unlock()

	r.retire([]*entry{removed})
	return name, true
}

// Rename moves the record backed by oldPath to newPath without touching its
// name or instance. A record already backed by newPath is unregistered, since
// its file was replaced. Returns false if no record is backed by oldPath.
func (r *Registry) Rename(oldPath, newPath string) bool {
	r.mu.Lock()
	name, ok := r.paths[oldPath]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if oldPath == newPath {
		r.mu.Unlock()
		return true
	}

	var retired []*entry
	if owner, taken := r.paths[newPath]; taken && owner != name {
		retired = append(retired, r.removeLocked(owner))
	}

	delete(r.paths, oldPath)
	r.paths[newPath] = name
	r.records[name].rec.SourcePath = newPath
	r.mu.Unlock()

	log.Debug(log.CatRegistry, "renamed script source", "name", name, "from", oldPath, "to", newPath)
	r.retire(retired)
	return true
}

// Clear unregisters every record.
func (r *Registry) Clear() {
	r.mu.Lock()
	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)

	retired := make([]*entry, 0, len(names))
	for _, name := range names {
		retired = append(retired, r.removeLocked(name))
	}
	r.types.Reset()
	r.mu.Unlock()

	r.retire(retired)
}

// removeLocked drops name from every index and publishes Unregistered.
// r.mu must be held for writing and name must exist.
func (r *Registry) removeLocked(name string) *entry {
	e := r.records[name]
	delete(r.records, name)
	if !r.types.Remove(e.rec.TypeTag, name) {
		r.events.Warn("Unable to unregister type %s, name %s, does not exist", e.rec.TypeTag, name)
	}
	if e.rec.SourcePath != "" && r.paths[e.rec.SourcePath] == name {
		delete(r.paths, e.rec.SourcePath)
	}
	r.events.unregistered(name)
	log.Debug(log.CatRegistry, "unregistered script", "name", name, "type", e.rec.TypeTag)
	return e
}

// retire waits for in-flight invocations of each entry to finish and then runs
// its OnUnregistered hook. Must be called without r.mu held.
func (r *Registry) retire(entries []*entry) {
	for _, e := range entries {
		hook, ok := e.rec.Instance.(script.Unregisterable)
		if !ok {
			continue
		}
		e.exec.Lock()
		err := callHook(hook.OnUnregistered)
		e.exec.Unlock()
		if err != nil {
			r.events.Error(fmt.Errorf("unregister %s: OnUnregistered: %w", e.rec.Name, err))
		}
	}
}

// Lookup returns a copy of the record registered under name.
func (r *Registry) Lookup(name string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.records[name]
	if !ok {
		return Record{}, false
	}
	return e.rec, true
}

// NameForPath returns the name of the record backed by path.
func (r *Registry) NameForPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.paths[path]
	return name, ok
}

// NamesOfType returns a sorted snapshot of the names under typeTag.
// An unknown tag yields an empty slice and a Warning.
func (r *Registry) NamesOfType(typeTag string) []string {
	r.mu.RLock()
	names, known := r.types.Names(typeTag)
	r.mu.RUnlock()

	if !known {
		r.events.Warn("No scripts of type %s registered", typeTag)
	}
	return names
}

// TypeTags returns every tag the registry has seen since the last Clear.
func (r *Registry) TypeTags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types.Tags()
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.records))
	for name := range r.records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns copies of all records, sorted by name.
func (r *Registry) Records() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for _, e := range r.records {
		out = append(out, e.rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sourced returns copies of the records backed by a file, sorted by name.
func (r *Registry) Sourced() []Record {
	all := r.Records()
	out := all[:0]
	for _, rec := range all {
		if rec.FromFile() {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of registered records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// callHook runs fn, converting a panic into an error.
func callHook(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	fn()
	return nil
}

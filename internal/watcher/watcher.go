// Package watcher provides recursive file system watching with per-path debouncing
// for script directories.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/hotswap/internal/log"
)

// ErrDisposed is returned by Start after Stop.
var ErrDisposed = errors.New("watcher disposed")

// Handler receives settled file system changes.
//
// Calls for one path never overlap. Calls for different paths may run
// concurrently. A Handler must not call Stop.
type Handler interface {
	// Changed reports that path was created or written and has been quiet for
	// the debounce window.
	Changed(path string)
	// Deleted reports that path (a file or a directory) is gone.
	Deleted(path string)
	// Renamed reports that oldPath was moved to newPath inside the tree.
	// Returning false means nothing was known about oldPath, and newPath is
	// then reported through Changed.
	Renamed(oldPath, newPath string) bool
	// WatchError reports a failure of the notification source itself.
	WatchError(err error)
}

// Config holds watcher configuration options.
type Config struct {
	Root     string
	Debounce time.Duration
	// Filter limits which files are reported. Nil reports every file.
	// Directories are always watched.
	Filter func(path string) bool
}

// DefaultConfig returns sensible defaults for the watcher.
func DefaultConfig(root string) Config {
	return Config{
		Root:     root,
		Debounce: 50 * time.Millisecond,
	}
}

type opKind int

const (
	opChanged opKind = iota
	opDeleted
)

func (k opKind) String() string {
	if k == opDeleted {
		return "deleted"
	}
	return "changed"
}

// pending is one debounced operation waiting for its path to go quiet.
type pending struct {
	kind  opKind
	timer *time.Timer
}

// moveFrom is the first half of a rename, waiting for its Create.
type moveFrom struct {
	path  string
	isDir bool
	info  os.FileInfo // nil when the file was never seen
	timer *time.Timer
}

// Watcher monitors a directory tree and reports settled changes to a Handler.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	filter    func(string) bool
	handler   Handler

	mu       sync.Mutex
	pending  map[string]*pending
	running  map[string]bool
	queued   map[string]opKind
	moves    []*moveFrom
	dirs     map[string]struct{}
	ids      map[string]os.FileInfo
	started  bool
	disposed bool

	settles  sync.WaitGroup
	done     chan struct{}
	loopDone chan struct{}
}

// New creates a new directory watcher. Nothing is watched until Start.
func New(cfg Config, h Handler) (*Watcher, error) {
	if h == nil {
		return nil, errors.New("watcher: nil handler")
	}
	if cfg.Root == "" {
		return nil, errors.New("watcher: empty root")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig(cfg.Root).Debounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		root:      filepath.Clean(cfg.Root),
		debounce:  cfg.Debounce,
		filter:    cfg.Filter,
		handler:   h,
		pending:   make(map[string]*pending),
		running:   make(map[string]bool),
		queued:    make(map[string]opKind),
		dirs:      make(map[string]struct{}),
		ids:       make(map[string]os.FileInfo),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
	}, nil
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Start watches the root and every directory below it.
// Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return ErrDisposed
	}
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if err := w.fsWatcher.Add(w.root); err != nil {
		w.mu.Lock()
		w.started = false
		w.mu.Unlock()
		return fmt.Errorf("watching directory %s: %w", w.root, err)
	}
	w.addDir(w.root)
	w.addTree(w.root, false)

	go w.loop()

	log.Debug(log.CatWatcher, "watcher armed", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop terminates the watcher and releases resources. Pending debounces are
// discarded and Stop waits for handler calls already in progress, so nothing
// is dispatched after it returns. Stop is idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return nil
	}
	w.disposed = true
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	for _, m := range w.moves {
		m.timer.Stop()
	}
	w.moves = nil
	started := w.started
	w.mu.Unlock()

	close(w.done)
	err := w.fsWatcher.Close()
	if started {
		<-w.loopDone
	}
	w.settles.Wait()

	log.Debug(log.CatWatcher, "watcher disposed", "root", w.root)
	return err
}

// Disposed reports whether Stop has been called.
func (w *Watcher) Disposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disposed
}

// loop processes file system events.
func (w *Watcher) loop() {
	defer close(w.loopDone)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatWatcher, "notification error", err, "root", w.root)
			w.dispatch(func() { w.handler.WatchError(err) })

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)

	switch {
	case event.Has(fsnotify.Create):
		w.created(path)
	case event.Has(fsnotify.Write):
		if w.relevant(path) {
			if info, err := os.Stat(path); err == nil {
				w.remember(path, info)
			}
			w.schedule(path, opChanged)
		}
	case event.Has(fsnotify.Remove):
		w.removed(path)
	case event.Has(fsnotify.Rename):
		w.movedFrom(path)
	}
}

func (w *Watcher) created(path string) {
	info, err := os.Stat(path)
	if err != nil {
		// Gone already; its Remove follows.
		return
	}
	isDir := info.IsDir()

	if !isDir && !w.relevant(path) {
		return
	}

	w.remember(path, info)

	if from := w.takeMove(path, info); from != nil {
		if isDir {
			w.addTree(path, false)
		}
		if from.path == path {
			// Replaced in place (editor save through a backup file).
			w.schedule(path, opChanged)
			return
		}
		w.dispatch(func() {
			if !w.handler.Renamed(from.path, path) {
				if isDir {
					w.addTree(path, true)
				} else {
					w.schedule(path, opChanged)
				}
			}
		})
		return
	}

	if isDir {
		w.addTree(path, true)
		return
	}
	w.schedule(path, opChanged)
}

func (w *Watcher) removed(path string) {
	w.forgetID(path)
	isDir := w.forgetDir(path)
	if !isDir && !w.relevant(path) {
		return
	}
	w.schedule(path, opDeleted)
}

// movedFrom records the old half of a rename. If no Create pairs with it
// within the debounce window it settles as a delete.
func (w *Watcher) movedFrom(path string) {
	info := w.forgetID(path)
	isDir := w.forgetDir(path)
	if !isDir && !w.relevant(path) {
		return
	}
	if isDir {
		_ = w.fsWatcher.Remove(path)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
	m := &moveFrom{path: path, isDir: isDir, info: info}
	m.timer = time.AfterFunc(w.debounce, func() { w.expireMove(m) })
	w.moves = append(w.moves, m)
}

// takeMove pops the unpaired rename that created path completes: one that
// left the same path, or else one whose file is the file now at path.
// A rename of a file the watcher never saw pairs with nothing.
func (w *Watcher) takeMove(path string, info os.FileInfo) *moveFrom {
	w.mu.Lock()
	defer w.mu.Unlock()

	match := -1
	for i, m := range w.moves {
		if m.isDir != info.IsDir() {
			continue
		}
		if m.path == path {
			match = i
			break
		}
		if match < 0 && m.info != nil && os.SameFile(m.info, info) {
			match = i
		}
	}
	if match < 0 {
		return nil
	}
	m := w.moves[match]
	m.timer.Stop()
	w.moves = append(w.moves[:match], w.moves[match+1:]...)
	return m
}

// remember records the identity of the file or directory at path.
func (w *Watcher) remember(path string, info os.FileInfo) {
	w.mu.Lock()
	w.ids[path] = info
	w.mu.Unlock()
}

// forgetID drops the identities of path and everything below it, returning
// the one recorded for path.
func (w *Watcher) forgetID(path string) os.FileInfo {
	w.mu.Lock()
	defer w.mu.Unlock()

	info := w.ids[path]
	delete(w.ids, path)
	prefix := path + string(filepath.Separator)
	for p := range w.ids {
		if strings.HasPrefix(p, prefix) {
			delete(w.ids, p)
		}
	}
	return info
}

func (w *Watcher) expireMove(m *moveFrom) {
	w.mu.Lock()
	found := false
	for i, cur := range w.moves {
		if cur == m {
			w.moves = append(w.moves[:i], w.moves[i+1:]...)
			found = true
			break
		}
	}
	w.mu.Unlock()
	if !found {
		return
	}
	w.dispatch(func() { w.handler.Deleted(m.path) })
}

// schedule (re)starts the debounce timer for path. The last operation
// scheduled within the window wins.
func (w *Watcher) schedule(path string, kind opKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.disposed {
		return
	}

	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	p := &pending{kind: kind}
	p.timer = time.AfterFunc(w.debounce, func() { w.fire(path, p) })
	w.pending[path] = p
}

// fire runs a settled operation. If an earlier operation for the same path is
// still running, this one is queued behind it instead.
func (w *Watcher) fire(path string, p *pending) {
	w.mu.Lock()
	if w.disposed || w.pending[path] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	if w.running[path] {
		w.queued[path] = p.kind
		w.mu.Unlock()
		return
	}
	w.running[path] = true
	w.settles.Add(1)
	w.mu.Unlock()
	defer w.settles.Done()

	kind := p.kind
	for {
		w.run(path, kind)

		w.mu.Lock()
		next, again := w.queued[path]
		delete(w.queued, path)
		if !again || w.disposed {
			delete(w.running, path)
			w.mu.Unlock()
			return
		}
		kind = next
		w.mu.Unlock()
	}
}

func (w *Watcher) run(path string, kind opKind) {
	log.Debug(log.CatWatcher, "settled", "op", kind, "path", path)
	defer func() {
		if r := recover(); r != nil {
			w.handler.WatchError(fmt.Errorf("handler panic on %s %s: %v", kind, path, r))
		}
	}()

	switch kind {
	case opChanged:
		w.handler.Changed(path)
	case opDeleted:
		w.handler.Deleted(path)
	}
}

// dispatch calls fn unless the watcher is disposed, and keeps Stop waiting
// until it returns.
func (w *Watcher) dispatch(fn func()) {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.settles.Add(1)
	w.mu.Unlock()
	defer w.settles.Done()

	fn()
}

// addTree watches every directory below dir. With scan set, files already
// present are scheduled as changed, since their Create events were missed.
func (w *Watcher) addTree(dir string, scan bool) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			log.ErrorErr(log.CatWatcher, "walk failed", err, "path", path)
			return nil
		}
		if d.IsDir() {
			if path != w.root {
				if err := w.fsWatcher.Add(path); err != nil {
					w.dispatch(func() { w.handler.WatchError(fmt.Errorf("watching directory %s: %w", path, err)) })
					return fs.SkipDir
				}
			}
			w.addDir(path)
			if info, err := d.Info(); err == nil {
				w.remember(path, info)
			}
			return nil
		}
		if !w.relevant(path) {
			return nil
		}
		if info, err := d.Info(); err == nil {
			w.remember(path, info)
		}
		if scan {
			w.schedule(path, opChanged)
		}
		return nil
	})
	if err != nil {
		w.dispatch(func() { w.handler.WatchError(fmt.Errorf("walking %s: %w", dir, err)) })
	}
}

func (w *Watcher) addDir(path string) {
	w.mu.Lock()
	w.dirs[path] = struct{}{}
	w.mu.Unlock()
}

// forgetDir drops path and everything below it from the watched directory set.
// It reports whether path itself was a watched directory.
func (w *Watcher) forgetDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, isDir := w.dirs[path]
	if !isDir {
		return false
	}
	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.dirs, dir)
		}
	}
	return true
}

func (w *Watcher) relevant(path string) bool {
	return w.filter == nil || w.filter(path)
}

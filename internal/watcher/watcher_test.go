package watcher_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/hotswap/internal/watcher"
)

const debounce = 50 * time.Millisecond

// recorder is a Handler that records every call as "op:path".
type recorder struct {
	mu      sync.Mutex
	calls   []string
	known   map[string]bool
	errs    []error
	renamed func(oldPath, newPath string) bool
}

func newRecorder() *recorder {
	return &recorder{known: map[string]bool{}}
}

func (r *recorder) add(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *recorder) Changed(path string) {
	r.mu.Lock()
	r.known[path] = true
	r.mu.Unlock()
	r.add("changed:" + filepath.Base(path))
}

func (r *recorder) Deleted(path string) {
	r.mu.Lock()
	delete(r.known, path)
	r.mu.Unlock()
	r.add("deleted:" + filepath.Base(path))
}

func (r *recorder) Renamed(oldPath, newPath string) bool {
	r.add("renamed:" + filepath.Base(oldPath) + "->" + filepath.Base(newPath))
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.renamed != nil {
		return r.renamed(oldPath, newPath)
	}
	if !r.known[oldPath] {
		return false
	}
	delete(r.known, oldPath)
	r.known[newPath] = true
	return true
}

func (r *recorder) WatchError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) waitCalls(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.Calls()) >= n }, 2*time.Second, 5*time.Millisecond,
		"expected %d calls", n)
	// Give stragglers a chance to show up.
	time.Sleep(3 * debounce)
	return r.Calls()
}

func startWatcher(t *testing.T, dir string, h watcher.Handler) *watcher.Watcher {
	t.Helper()
	cfg := watcher.DefaultConfig(dir)
	cfg.Debounce = debounce
	cfg.Filter = func(path string) bool { return strings.HasSuffix(path, ".lua") }

	w, err := watcher.New(cfg, h)
	require.NoError(t, err, "failed to create watcher")
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, w.Start(), "failed to start watcher")
	return w
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.lua")
	writeFile(t, path, "v0")

	rec := newRecorder()
	startWatcher(t, dir, rec)

	// Rapid writes should coalesce into single notification
	for i := 0; i < 10; i++ {
		writeFile(t, path, fmt.Sprintf("v%d", i))
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, []string{"changed:a.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_CreateThenWriteIsOneChange(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, dir, rec)

	writeFile(t, filepath.Join(dir, "new.lua"), "content")

	require.Equal(t, []string{"changed:new.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_PathsDebounceIndependently(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, dir, rec)

	writeFile(t, filepath.Join(dir, "x.lua"), "x")

	// Keep y busy well past x's window; x must still settle on time.
	y := filepath.Join(dir, "y.lua")
	deadline := time.Now().Add(4 * debounce)
	for i := 0; time.Now().Before(deadline); i++ {
		writeFile(t, y, fmt.Sprintf("y%d", i))
		time.Sleep(10 * time.Millisecond)
	}
	require.Contains(t, rec.Calls(), "changed:x.lua", "x settled while y was still busy")

	calls := rec.waitCalls(t, 2)
	require.ElementsMatch(t, []string{"changed:x.lua", "changed:y.lua"}, calls)
}

func TestWatcher_IgnoresFilteredFiles(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, dir, rec)

	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "real.lua"), "seen")

	require.Equal(t, []string{"changed:real.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_Delete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.lua")
	writeFile(t, path, "x")

	rec := newRecorder()
	startWatcher(t, dir, rec)

	require.NoError(t, os.Remove(path))

	require.Equal(t, []string{"deleted:gone.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_DeleteThenRecreateSettlesAsChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flip.lua")
	writeFile(t, path, "v1")

	rec := newRecorder()
	startWatcher(t, dir, rec)

	require.NoError(t, os.Remove(path))
	writeFile(t, path, "v2")

	require.Equal(t, []string{"changed:flip.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_RenameKnownFile(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "p1.lua")
	newPath := filepath.Join(dir, "p2.lua")
	writeFile(t, oldPath, "x")

	rec := newRecorder()
	rec.known[oldPath] = true
	startWatcher(t, dir, rec)

	require.NoError(t, os.Rename(oldPath, newPath))

	require.Equal(t, []string{"renamed:p1.lua->p2.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_RenameUnknownFileLoadsNewPath(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "tmp.lua")
	newPath := filepath.Join(dir, "final.lua")
	writeFile(t, oldPath, "x")

	rec := newRecorder()
	startWatcher(t, dir, rec)

	require.NoError(t, os.Rename(oldPath, newPath))

	require.Equal(t, []string{"renamed:tmp.lua->final.lua", "changed:final.lua"}, rec.waitCalls(t, 2))
}

func TestWatcher_RenameOutOfTreeIsDelete(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	path := filepath.Join(dir, "leaving.lua")
	writeFile(t, path, "x")

	rec := newRecorder()
	startWatcher(t, dir, rec)

	require.NoError(t, os.Rename(path, filepath.Join(outside, "leaving.lua")))

	require.Equal(t, []string{"deleted:leaving.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_MoveOutThenUnrelatedMoveInIsNotARename(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	leaving := filepath.Join(dir, "a.lua")
	arriving := filepath.Join(outside, "b.lua")
	writeFile(t, leaving, "a")
	writeFile(t, arriving, "b")

	rec := newRecorder()
	rec.known[leaving] = true
	startWatcher(t, dir, rec)

	require.NoError(t, os.Rename(leaving, filepath.Join(outside, "a-moved.lua")))
	require.NoError(t, os.Rename(arriving, filepath.Join(dir, "b.lua")))

	calls := rec.waitCalls(t, 2)
	require.ElementsMatch(t, []string{"deleted:a.lua", "changed:b.lua"}, calls)
}

func TestWatcher_RenamePairsWithTheMovedFile(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	first := filepath.Join(dir, "first.lua")
	second := filepath.Join(dir, "second.lua")
	writeFile(t, first, "1")
	writeFile(t, second, "2")

	rec := newRecorder()
	rec.known[first] = true
	rec.known[second] = true
	startWatcher(t, dir, rec)

	// first leaves the tree; second is renamed inside it.
	require.NoError(t, os.Rename(first, filepath.Join(outside, "first.lua")))
	require.NoError(t, os.Rename(second, filepath.Join(dir, "third.lua")))

	calls := rec.waitCalls(t, 2)
	require.ElementsMatch(t, []string{"deleted:first.lua", "renamed:second.lua->third.lua"}, calls)
}

func TestWatcher_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, dir, rec)

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// Let the directory watch be added before writing into it.
	time.Sleep(debounce)
	writeFile(t, filepath.Join(sub, "deep.lua"), "x")

	require.Equal(t, []string{"changed:deep.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_WatchesExistingSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	rec := newRecorder()
	startWatcher(t, dir, rec)

	writeFile(t, filepath.Join(sub, "leaf.lua"), "x")

	require.Equal(t, []string{"changed:leaf.lua"}, rec.waitCalls(t, 1))
}

func TestWatcher_NoDispatchAfterStop(t *testing.T) {
	dir := t.TempDir()
	rec := newRecorder()
	w := startWatcher(t, dir, rec)

	writeFile(t, filepath.Join(dir, "late.lua"), "x")
	require.NoError(t, w.Stop())
	require.True(t, w.Disposed())

	time.Sleep(4 * debounce)
	require.Empty(t, rec.Calls())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := watcher.New(watcher.DefaultConfig(dir), newRecorder())
	require.NoError(t, err)

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	require.ErrorIs(t, w.Start(), watcher.ErrDisposed)
}

func TestWatcher_StopBeforeStart(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(t.TempDir()), newRecorder())
	require.NoError(t, err)
	require.NoError(t, w.Stop())
}

func TestWatcher_StartMissingRoot(t *testing.T) {
	w, err := watcher.New(watcher.DefaultConfig(filepath.Join(t.TempDir(), "missing")), newRecorder())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	require.Error(t, w.Start())
}

func TestNew_Validation(t *testing.T) {
	_, err := watcher.New(watcher.DefaultConfig(t.TempDir()), nil)
	require.Error(t, err)

	_, err = watcher.New(watcher.Config{}, newRecorder())
	require.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := watcher.DefaultConfig("/scripts")
	require.Equal(t, "/scripts", cfg.Root)
	require.Equal(t, 50*time.Millisecond, cfg.Debounce)
	require.Nil(t, cfg.Filter)
}

// Package lua loads scripts written in Lua 5.1 through gopher-lua.
//
// A script file registers exactly one script:
//
//	registry.register{
//	  name    = "greeter",
//	  type    = "greeting",
//	  execute = function(ctx) registry.log("hello " .. ctx.who) end,
//	  data    = function() return { greeting = "hello" } end,
//	  unload  = function() end,
//	}
//
// execute, data and unload are optional. Each loaded file gets its own VM.
package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	glua "github.com/yuin/gopher-lua"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/script"
)

const (
	// Name is the backend name.
	Name = "lua"
	// DefaultType is the type tag of scripts that do not declare one.
	DefaultType = "lua"
)

// Backend loads .lua files.
type Backend struct {
	mu    sync.RWMutex
	paths []string
}

// New creates a Lua backend.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string         { return Name }
func (b *Backend) Extensions() []string { return []string{".lua"} }

// Initialize records extension paths; each is appended to package.path so
// scripts can require shared modules from it.
func (b *Backend) Initialize(exts []script.Extension) error {
	paths := make([]string, 0, len(exts))
	for _, ext := range exts {
		if ext.Path == "" {
			continue
		}
		info, err := os.Stat(ext.Path)
		if err != nil {
			return fmt.Errorf("extension %s: %w", ext.Name, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("extension %s: %s is not a directory", ext.Name, ext.Path)
		}
		paths = append(paths, ext.Path)
	}

	b.mu.Lock()
	b.paths = paths
	b.mu.Unlock()
	return nil
}

func (b *Backend) LoadFile(ctx context.Context, path string) (script.Instance, error) {
	src, err := os.ReadFile(path) //nolint:gosec // path comes from the watched script directory
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b.load(ctx, string(src), "@"+filepath.Base(path), filepath.Dir(path))
}

func (b *Backend) LoadSource(ctx context.Context, src string) (script.Instance, error) {
	return b.load(ctx, src, "<inline>", "")
}

func (b *Backend) Close() error { return nil }

// load runs src in a fresh VM and returns the single script it registered.
func (b *Backend) load(ctx context.Context, src, chunk, dir string) (inst script.Instance, err error) {
	L := glua.NewState()
	keep := false
	defer func() {
		if !keep {
			L.Close()
		}
	}()

	b.mu.RLock()
	searchPath := b.searchPath(L, dir)
	b.mu.RUnlock()
	if pkg, ok := L.GetGlobal("package").(*glua.LTable); ok {
		L.SetField(pkg, "path", glua.LString(searchPath))
	}

	vm := newVM(L, chunk)
	vm.install()

	if ctx == nil {
		ctx = context.Background()
	}
	L.SetContext(ctx)
	defer L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", chunk, r)
		}
	}()

	fn, err := L.Load(strings.NewReader(src), chunk)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", chunk, err)
	}
	L.Push(fn)
	if err := L.PCall(0, glua.MultRet, nil); err != nil {
		return nil, fmt.Errorf("%s: %w", chunk, err)
	}

	switch len(vm.registered) {
	case 0:
		return nil, fmt.Errorf("%s: %w", chunk, script.ErrNotRegistered)
	case 1:
	default:
		return nil, fmt.Errorf("%s: %w (%d calls)", chunk, script.ErrMultipleRegistrations, len(vm.registered))
	}

	def := vm.registered[0]
	if def.name == "" {
		return nil, fmt.Errorf("%s: %w: register needs a name", chunk, script.ErrInvalidInstance)
	}

	keep = true
	log.Debug(log.CatBackend, "lua script loaded", "chunk", chunk, "name", def.name, "type", def.tag)
	return newInstance(vm, def), nil
}

func (b *Backend) searchPath(L *glua.LState, dir string) string {
	var parts []string
	if dir != "" {
		parts = append(parts, filepath.Join(dir, "?.lua"))
	}
	for _, p := range b.paths {
		parts = append(parts, filepath.Join(p, "?.lua"), filepath.Join(p, "?", "init.lua"))
	}
	if cur, ok := L.GetField(L.GetGlobal("package"), "path").(glua.LString); ok && cur != "" {
		parts = append(parts, string(cur))
	}
	return strings.Join(parts, ";")
}

var _ script.Backend = (*Backend)(nil)

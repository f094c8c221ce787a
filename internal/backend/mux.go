// Package backend dispatches script loading to the backend that owns a file extension.
package backend

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/script"
)

// Mux is a script.Backend that routes each file to the backend registered
// for its extension.
type Mux struct {
	backends []script.Backend
	byExt    map[string]script.Backend
	byName   map[string]script.Backend
}

// NewMux combines backends. Two backends claiming the same extension or name is an error.
func NewMux(backends ...script.Backend) (*Mux, error) {
	m := &Mux{
		byExt:  make(map[string]script.Backend),
		byName: make(map[string]script.Backend),
	}
	for _, b := range backends {
		if b == nil {
			continue
		}
		if _, dup := m.byName[b.Name()]; dup {
			return nil, fmt.Errorf("backend %q registered twice", b.Name())
		}
		m.byName[b.Name()] = b
		for _, ext := range b.Extensions() {
			ext = normalizeExt(ext)
			if owner, dup := m.byExt[ext]; dup {
				return nil, fmt.Errorf("extension %s claimed by both %s and %s", ext, owner.Name(), b.Name())
			}
			m.byExt[ext] = b
		}
		m.backends = append(m.backends, b)
	}
	return m, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func (m *Mux) Name() string { return "mux" }

// Extensions returns every handled extension, sorted.
func (m *Mux) Extensions() []string {
	exts := make([]string, 0, len(m.byExt))
	for ext := range m.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Backends returns the combined backends in registration order.
func (m *Mux) Backends() []script.Backend {
	return append([]script.Backend(nil), m.backends...)
}

// Initialize initializes every backend with the same extension list.
func (m *Mux) Initialize(exts []script.Extension) error {
	var errs []error
	for _, b := range m.backends {
		if err := b.Initialize(exts); err != nil {
			errs = append(errs, fmt.Errorf("initialize %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// For returns the backend for a file path.
func (m *Mux) For(path string) (script.Backend, bool) {
	b, ok := m.byExt[strings.ToLower(filepath.Ext(path))]
	return b, ok
}

// Supports reports whether some backend handles path.
func (m *Mux) Supports(path string) bool {
	_, ok := m.For(path)
	return ok
}

// Lookup returns a backend by name ("lua") or by extension (".lua" or "lua").
func (m *Mux) Lookup(lang string) (script.Backend, bool) {
	if b, ok := m.byName[lang]; ok {
		return b, true
	}
	b, ok := m.byExt[normalizeExt(lang)]
	return b, ok
}

func (m *Mux) LoadFile(ctx context.Context, path string) (script.Instance, error) {
	b, ok := m.For(path)
	if !ok {
		return nil, fmt.Errorf("%w for %s", script.ErrNoBackend, filepath.Base(path))
	}
	log.Debug(log.CatBackend, "loading file", "backend", b.Name(), "path", path)
	return b.LoadFile(ctx, path)
}

// LoadSource loads src with the only backend. With more than one backend the
// language is ambiguous; use Lookup and call the backend directly.
func (m *Mux) LoadSource(ctx context.Context, src string) (script.Instance, error) {
	if len(m.backends) != 1 {
		return nil, fmt.Errorf("%w: inline source needs a language with %d backends", script.ErrUnsupported, len(m.backends))
	}
	return m.backends[0].LoadSource(ctx, src)
}

// Close closes every backend.
func (m *Mux) Close() error {
	var errs []error
	for _, b := range m.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ script.Backend = (*Mux)(nil)

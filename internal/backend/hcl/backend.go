// Package hcl loads declarative data scripts written in HCL.
//
//	script "greeting" {
//	  type = "data"
//	  data = { message = upper(local.prefix), count = 2 }
//	}
//
// A file holds exactly one script block and any number of locals blocks.
// Locals from extension directories are visible to every script.
package hcl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/script"
)

const (
	// Name is the backend name.
	Name = "hcl"
	// DefaultType is the type tag of scripts that do not declare one.
	DefaultType = "hcl"
)

// fileRoot decodes the top-level blocks of a script file.
type fileRoot struct {
	Scripts []*scriptBlock `hcl:"script,block"`
	Locals  []*localsBlock `hcl:"locals,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

type scriptBlock struct {
	Name string         `hcl:"name,label"`
	Type string         `hcl:"type,optional"`
	Data hcl.Expression `hcl:"data,optional"`
}

type localsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// Backend loads .hcl files.
type Backend struct {
	mu     sync.RWMutex
	shared map[string]cty.Value
}

// New creates an HCL backend.
func New() *Backend {
	return &Backend{shared: map[string]cty.Value{}}
}

func (b *Backend) Name() string         { return Name }
func (b *Backend) Extensions() []string { return []string{".hcl"} }

// Initialize reads the locals blocks of every .hcl file in each extension
// directory. Later extensions override earlier ones on name clashes.
func (b *Backend) Initialize(exts []script.Extension) error {
	shared := map[string]cty.Value{}
	parser := hclparse.NewParser()

	for _, ext := range exts {
		if ext.Path == "" {
			continue
		}
		files, err := filepath.Glob(filepath.Join(ext.Path, "*.hcl"))
		if err != nil {
			return fmt.Errorf("extension %s: %w", ext.Name, err)
		}
		if _, err := os.Stat(ext.Path); err != nil {
			return fmt.Errorf("extension %s: %w", ext.Name, err)
		}
		sort.Strings(files)
		for _, file := range files {
			f, diags := parser.ParseHCLFile(file)
			if diags.HasErrors() {
				return fmt.Errorf("extension %s: failed to parse %s: %w", ext.Name, file, diags)
			}
			var root fileRoot
			if diags := gohcl.DecodeBody(f.Body, nil, &root); diags.HasErrors() {
				return fmt.Errorf("extension %s: failed to decode %s: %w", ext.Name, file, diags)
			}
			if err := evalLocals(root.Locals, shared, shared); err != nil {
				return fmt.Errorf("extension %s: %s: %w", ext.Name, file, err)
			}
		}
	}

	b.mu.Lock()
	b.shared = shared
	b.mu.Unlock()
	log.Debug(log.CatBackend, "hcl extensions loaded", "locals", len(shared))
	return nil
}

func (b *Backend) LoadFile(ctx context.Context, path string) (script.Instance, error) {
	src, err := os.ReadFile(path) //nolint:gosec // path comes from the watched script directory
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b.load(src, filepath.Base(path))
}

func (b *Backend) LoadSource(ctx context.Context, src string) (script.Instance, error) {
	return b.load([]byte(src), "inline.hcl")
}

func (b *Backend) Close() error { return nil }

func (b *Backend) load(src []byte, filename string) (script.Instance, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(f.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	switch len(root.Scripts) {
	case 0:
		return nil, fmt.Errorf("%s: %w", filename, script.ErrNotRegistered)
	case 1:
	default:
		return nil, fmt.Errorf("%s: %w (%d script blocks)", filename, script.ErrMultipleRegistrations, len(root.Scripts))
	}

	b.mu.RLock()
	locals := make(map[string]cty.Value, len(b.shared))
	for k, v := range b.shared {
		locals[k] = v
	}
	b.mu.RUnlock()

	fileLocals := map[string]cty.Value{}
	if err := evalLocals(root.Locals, locals, fileLocals); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	for k, v := range fileLocals {
		locals[k] = v
	}

	block := root.Scripts[0]
	if block.Name == "" {
		return nil, fmt.Errorf("%s: %w: script block needs a name", filename, script.ErrInvalidInstance)
	}

	value := cty.NullVal(cty.DynamicPseudoType)
	if block.Data != nil {
		v, diags := block.Data.Value(evalContext(locals))
		if diags.HasErrors() {
			return nil, fmt.Errorf("%s: script %q: data: %w", filename, block.Name, diags)
		}
		value = v
	}
	if !value.IsWhollyKnown() {
		return nil, fmt.Errorf("%s: script %q: data is not fully known", filename, block.Name)
	}

	tag := block.Type
	if tag == "" {
		tag = DefaultType
	}

	log.Debug(log.CatBackend, "hcl script loaded", "file", filename, "name", block.Name, "type", tag)
	return &instance{name: block.Name, tag: tag, value: value}, nil
}

// evalLocals evaluates every attribute of blocks against scope and stores
// the results in out. Locals may not reference each other.
func evalLocals(blocks []*localsBlock, scope, out map[string]cty.Value) error {
	ctx := evalContext(scope)
	for _, blk := range blocks {
		attrs, diags := blk.Body.JustAttributes()
		if diags.HasErrors() {
			return fmt.Errorf("locals: %w", diags)
		}
		names := make([]string, 0, len(attrs))
		for name := range attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v, diags := attrs[name].Expr.Value(ctx)
			if diags.HasErrors() {
				return fmt.Errorf("local.%s: %w", name, diags)
			}
			out[name] = v
		}
	}
	return nil
}

func evalContext(locals map[string]cty.Value) *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"local": cty.ObjectVal(locals),
		},
		Functions: functions,
	}
}

var functions = map[string]function.Function{
	"upper":      stdlib.UpperFunc,
	"lower":      stdlib.LowerFunc,
	"join":       stdlib.JoinFunc,
	"concat":     stdlib.ConcatFunc,
	"length":     stdlib.LengthFunc,
	"format":     stdlib.FormatFunc,
	"merge":      stdlib.MergeFunc,
	"jsonencode": stdlib.JSONEncodeFunc,
}

var _ script.Backend = (*Backend)(nil)

package testutil

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/hotswap/internal/script"
)

// FakeExt is the file extension handled by FakeBackend.
const FakeExt = ".fake"

// ErrFakeLoad is returned for sources containing "kind=fail".
var ErrFakeLoad = errors.New("fake backend: load failed")

// FakeBackend parses tiny key=value script files:
//
//	name=greeter
//	type=greeting
//	kind=exec
//	value=hello
//
// kind is one of exec, data, plain, none, fail; value is only used by data.
// "none" returns no instance (the script never registered), "fail" returns ErrFakeLoad.
// An empty file behaves like "none".
type FakeBackend struct {
	mu        sync.Mutex
	loads     map[string]int
	exts      []script.Extension
	closed    bool
	initErr   error
	instances map[string]script.Instance
}

// NewFakeBackend creates a FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		loads:     make(map[string]int),
		instances: make(map[string]script.Instance),
	}
}

// FailInitialize makes Initialize return err.
func (b *FakeBackend) FailInitialize(err error) *FakeBackend {
	b.initErr = err
	return b
}

func (b *FakeBackend) Name() string         { return "fake" }
func (b *FakeBackend) Extensions() []string { return []string{FakeExt} }

func (b *FakeBackend) Initialize(exts []script.Extension) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exts = exts
	return b.initErr
}

func (b *FakeBackend) LoadFile(ctx context.Context, path string) (script.Instance, error) {
	data, err := os.ReadFile(path) //nolint:gosec // test helper
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.loads[path]++
	b.mu.Unlock()

	inst, err := parseFake(string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if inst != nil {
		b.mu.Lock()
		b.instances[path] = inst
		b.mu.Unlock()
	}
	return inst, nil
}

func (b *FakeBackend) LoadSource(ctx context.Context, src string) (script.Instance, error) {
	return parseFake(src)
}

func (b *FakeBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Loads returns how many times path was loaded.
func (b *FakeBackend) Loads(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[path]
}

// TotalLoads returns the number of LoadFile calls that read a file.
func (b *FakeBackend) TotalLoads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.loads {
		n += c
	}
	return n
}

// Received returns the extensions Initialize was given.
func (b *FakeBackend) Received() []script.Extension {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exts
}

// Closed reports whether Close ran.
func (b *FakeBackend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Instance returns the last instance loaded from path.
func (b *FakeBackend) Instance(path string) script.Instance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instances[path]
}

func parseFake(src string) (script.Instance, error) {
	fields := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed line %q", line)
		}
		fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	switch fields["kind"] {
	case "", "none":
		return nil, nil
	case "fail":
		return nil, ErrFakeLoad
	case "plain":
		return NewPlain(fields["name"], fields["type"]), nil
	case "exec":
		return NewExec(fields["name"], fields["type"]), nil
	case "data":
		return NewData(fields["name"], fields["type"], fields["value"]), nil
	default:
		return nil, fmt.Errorf("unknown kind %q", fields["kind"])
	}
}

// FakeSource renders a FakeBackend source.
func FakeSource(name, tag, kind string) string {
	return fmt.Sprintf("name=%s\ntype=%s\nkind=%s\nvalue=%s-value\n", name, tag, kind, name)
}

// WriteFake writes a FakeBackend script to dir/file and returns its path.
func WriteFake(t *testing.T, dir, file, name, tag, kind string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(FakeSource(name, tag, kind)), 0o644))
	return path
}

var _ script.Backend = (*FakeBackend)(nil)

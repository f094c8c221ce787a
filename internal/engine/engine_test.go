package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/hotswap/internal/engine"
	"github.com/zjrosen/hotswap/internal/script"
	"github.com/zjrosen/hotswap/internal/testutil"
	"github.com/zjrosen/hotswap/internal/tracing"
)

const testDebounce = 30 * time.Millisecond

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *testutil.FakeBackend, *testutil.Recorder) {
	t.Helper()
	fb := testutil.NewFakeBackend()
	e, err := engine.New(fb, append([]engine.Option{engine.WithDebounce(testDebounce)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Dispose() })

	rec := testutil.NewRecorder(t, e.Events())
	require.NoError(t, e.Initialize())
	return e, fb, rec
}

func requireCounts(t *testing.T, rec *testutil.Recorder, registered, unregistered, errs, warnings int) {
	t.Helper()
	rec.WaitFor(t, registered, unregistered, errs, warnings)
	rec.Settle(20 * time.Millisecond)
	r, u, e, w := rec.Counts()
	require.Equal(t, []int{registered, unregistered, errs, warnings}, []int{r, u, e, w}, "events: %s", rec)
}

func TestLoadDirectory_ValidAndInvalid(t *testing.T) {
	e, _, rec := newEngine(t)
	dir := t.TempDir()
	testutil.WriteFake(t, dir, "good.fake", "good", "greeting", "exec")
	bad := testutil.WriteFake(t, dir, "bad.fake", "bad", "greeting", "fail")

	require.False(t, e.LoadDirectory(context.Background(), dir))
	requireCounts(t, rec, 1, 0, 1, 0)

	require.Equal(t, "good", rec.Registered()[0].Name)
	var lerr *engine.LoadError
	require.ErrorAs(t, rec.Errors()[0], &lerr)
	require.Equal(t, bad, lerr.Path)
	require.Equal(t, "fake", lerr.Backend)
	require.ErrorIs(t, lerr, testutil.ErrFakeLoad)

	_, ok := e.Lookup("bad")
	require.False(t, ok)
}

func TestLoadDirectory_RecursesAndSkipsUnsupported(t *testing.T) {
	e, _, rec := newEngine(t)
	dir := t.TempDir()
	testutil.WriteFake(t, dir, "top.fake", "top", "t", "plain")
	testutil.WriteFake(t, dir, filepath.Join("a", "mid.fake"), "mid", "t", "exec")
	testutil.WriteFake(t, dir, filepath.Join("a", "b", "deep.fake"), "deep", "t", "data")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("ignored"), 0o644))

	require.True(t, e.LoadDirectory(context.Background(), dir))
	requireCounts(t, rec, 3, 0, 0, 0)
	require.Equal(t, []string{"deep", "mid", "top"}, e.NamesOfType("t"))

	deep, ok := e.Lookup("deep")
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "a", "b", "deep.fake"), deep.SourcePath)
	require.Equal(t, "fake", deep.Backend)
}

func TestLoadDirectory_MissingRoot(t *testing.T) {
	e, _, rec := newEngine(t)

	require.False(t, e.LoadDirectory(context.Background(), filepath.Join(t.TempDir(), "missing")))
	requireCounts(t, rec, 0, 0, 1, 0)
	require.ErrorIs(t, rec.Errors()[0], os.ErrNotExist)
}

func TestLoadOne_ScriptThatNeverRegisters(t *testing.T) {
	e, _, rec := newEngine(t)
	path := testutil.WriteFake(t, t.TempDir(), "empty.fake", "", "", "none")

	err := e.LoadOne(context.Background(), path)
	require.ErrorIs(t, err, script.ErrNotRegistered)
	requireCounts(t, rec, 0, 0, 1, 0)
	require.Zero(t, e.Registry().Len())
}

func TestLoadOne_NoBackend(t *testing.T) {
	e, _, rec := newEngine(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := e.LoadOne(context.Background(), path)
	require.ErrorIs(t, err, script.ErrNoBackend)
	requireCounts(t, rec, 0, 0, 1, 0)
}

func TestLoadOne_ReloadReplacesRecord(t *testing.T) {
	e, fb, rec := newEngine(t)
	dir := t.TempDir()
	path := testutil.WriteFake(t, dir, "a.fake", "a", "old", "exec")
	ctx := context.Background()

	require.NoError(t, e.LoadOne(ctx, path))
	first, _ := e.Lookup("a")

	testutil.WriteFake(t, dir, "a.fake", "a", "new", "exec")
	require.NoError(t, e.LoadOne(ctx, path))

	requireCounts(t, rec, 2, 1, 0, 0)
	require.Equal(t, []string{"registered:a", "unregistered:a", "registered:a"}, rec.Sequence())

	second, ok := e.Lookup("a")
	require.True(t, ok)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, "new", second.TypeTag)
	require.Equal(t, 2, fb.Loads(path))
	require.Contains(t, e.NamesOfType("new"), "a")
	require.NotContains(t, e.NamesOfType("old"), "a")
}

func TestLoadOne_FailedReloadKeepsRecord(t *testing.T) {
	e, _, rec := newEngine(t)
	dir := t.TempDir()
	path := testutil.WriteFake(t, dir, "a.fake", "a", "t", "exec")
	ctx := context.Background()

	require.NoError(t, e.LoadOne(ctx, path))
	before, _ := e.Lookup("a")

	testutil.WriteFake(t, dir, "a.fake", "a", "t", "fail")
	require.ErrorIs(t, e.LoadOne(ctx, path), testutil.ErrFakeLoad)

	requireCounts(t, rec, 1, 0, 1, 0)
	after, ok := e.Lookup("a")
	require.True(t, ok)
	require.Equal(t, before.ID, after.ID)
}

func TestLoadOne_RenamedScriptEvictsPrevious(t *testing.T) {
	e, _, rec := newEngine(t)
	dir := t.TempDir()
	path := testutil.WriteFake(t, dir, "a.fake", "first", "t", "exec")
	ctx := context.Background()

	require.NoError(t, e.LoadOne(ctx, path))
	testutil.WriteFake(t, dir, "a.fake", "second", "t", "exec")
	require.NoError(t, e.LoadOne(ctx, path))

	requireCounts(t, rec, 2, 1, 0, 0)
	require.Equal(t, []string{"registered:first", "unregistered:first", "registered:second"}, rec.Sequence())
	require.Equal(t, []string{"second"}, e.Registry().Names())
}

func TestLoadSource(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	rec, err := e.LoadSource(ctx, testutil.FakeSource("inline", "t", "data"), "fake")
	require.NoError(t, err)
	require.Equal(t, "inline", rec.Name)
	require.False(t, rec.FromFile())

	value, ok := e.Fetch(ctx, "inline")
	require.True(t, ok)
	require.Equal(t, "inline-value", value)

	byExt, err := e.LoadSource(ctx, testutil.FakeSource("ext", "t", "plain"), ".fake")
	require.NoError(t, err)
	require.Equal(t, "ext", byExt.Name)

	single, err := e.LoadSource(ctx, testutil.FakeSource("single", "t", "plain"), "")
	require.NoError(t, err)
	require.Equal(t, "single", single.Name)
}

func TestLoadSource_Failures(t *testing.T) {
	e, _, rec := newEngine(t)
	ctx := context.Background()

	_, err := e.LoadSource(ctx, testutil.FakeSource("x", "t", "plain"), "cobol")
	require.ErrorIs(t, err, script.ErrNoBackend)

	_, err = e.LoadSource(ctx, testutil.FakeSource("x", "t", "none"), "fake")
	require.ErrorIs(t, err, script.ErrNotRegistered)

	_, err = e.LoadSource(ctx, testutil.FakeSource("x", "t", "fail"), "fake")
	require.ErrorIs(t, err, testutil.ErrFakeLoad)

	requireCounts(t, rec, 0, 0, 3, 0)
}

func TestReloadAll_PartialFailure(t *testing.T) {
	e, fb, rec := newEngine(t)
	dir := t.TempDir()
	okPath := testutil.WriteFake(t, dir, "ok.fake", "ok", "t", "exec")
	testutil.WriteFake(t, dir, "broken.fake", "broken", "t", "exec")
	_, err := e.Register(testutil.NewPlain("inline", "t"))
	require.NoError(t, err)
	ctx := context.Background()

	require.True(t, e.LoadDirectory(ctx, dir))
	brokenBefore, _ := e.Lookup("broken")

	testutil.WriteFake(t, dir, "broken.fake", "broken", "t", "fail")
	require.False(t, e.ReloadAll(ctx))

	requireCounts(t, rec, 4, 1, 1, 0)
	require.Equal(t, 2, fb.Loads(okPath))

	brokenAfter, ok := e.Lookup("broken")
	require.True(t, ok)
	require.Equal(t, brokenBefore.ID, brokenAfter.ID)
	_, ok = e.Lookup("inline")
	require.True(t, ok, "inline scripts are not reloaded")
}

func TestReloadAll_DropsMissingFiles(t *testing.T) {
	e, _, rec := newEngine(t)
	dir := t.TempDir()
	path := testutil.WriteFake(t, dir, "gone.fake", "gone", "t", "exec")
	ctx := context.Background()

	require.NoError(t, e.LoadOne(ctx, path))
	require.NoError(t, os.Remove(path))

	require.True(t, e.ReloadAll(ctx))
	requireCounts(t, rec, 1, 1, 0, 0)
	require.Zero(t, e.Registry().Len())
}

func TestInitialize_AccumulatesExtensions(t *testing.T) {
	e, fb, _ := newEngine(t)
	a := script.Extension{Name: "a", Path: "/ext/a"}
	b := script.Extension{Name: "b", Path: "/ext/b"}

	require.NoError(t, e.Initialize(a))
	require.NoError(t, e.Initialize(a, b))

	require.Equal(t, []script.Extension{a, b}, fb.Received())
	require.Equal(t, []script.Extension{a, b}, e.Extensions())
}

func TestInitialize_ClearsRegistry(t *testing.T) {
	e, _, rec := newEngine(t)
	inst := testutil.NewPlain("p", "t")
	_, err := e.Register(inst)
	require.NoError(t, err)

	require.NoError(t, e.Initialize())
	requireCounts(t, rec, 1, 1, 0, 0)
	require.Zero(t, e.Registry().Len())
	require.Equal(t, 1, inst.UnregisteredCount())
}

func TestInitialize_BackendFailure(t *testing.T) {
	fb := testutil.NewFakeBackend().FailInitialize(errors.New("missing library"))
	e, err := engine.New(fb)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Dispose() })
	rec := testutil.NewRecorder(t, e.Events())

	require.ErrorContains(t, e.Initialize(), "missing library")
	requireCounts(t, rec, 0, 0, 1, 0)
}

func TestFetch_CachesPerGeneration(t *testing.T) {
	e, _, _ := newEngine(t, engine.WithFetchCache(time.Minute))
	ctx := context.Background()

	first := testutil.NewData("d", "t", 1)
	_, err := e.Register(first)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		value, ok := e.Fetch(ctx, "d")
		require.True(t, ok)
		require.Equal(t, 1, value)
	}
	require.Equal(t, 1, first.DataCalls())

	second := testutil.NewData("d", "t", 2)
	_, err = e.Register(second)
	require.NoError(t, err)

	value, ok := e.Fetch(ctx, "d")
	require.True(t, ok)
	require.Equal(t, 2, value)
	require.Equal(t, 1, second.DataCalls())
}

func TestFetch_CachedValueMayLagScriptStateUntilTTL(t *testing.T) {
	e, _, _ := newEngine(t, engine.WithFetchCache(100*time.Millisecond))
	ctx := context.Background()

	data := testutil.NewData("d", "t", 1)
	_, err := e.Register(data)
	require.NoError(t, err)

	value, ok := e.Fetch(ctx, "d")
	require.True(t, ok)
	require.Equal(t, 1, value)

	data.Set(2)
	value, _ = e.Fetch(ctx, "d")
	require.Equal(t, 1, value, "served from cache within ttl")

	require.Eventually(t, func() bool {
		value, _ := e.Fetch(ctx, "d")
		return value == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFetch_Uncached(t *testing.T) {
	e, _, _ := newEngine(t)
	ctx := context.Background()

	data := testutil.NewData("d", "t", "v")
	_, err := e.Register(data)
	require.NoError(t, err)

	_, _ = e.Fetch(ctx, "d")
	_, _ = e.Fetch(ctx, "d")
	require.Equal(t, 2, data.DataCalls())

	_, ok := e.Fetch(ctx, "missing")
	require.False(t, ok)
}

func TestInvoke(t *testing.T) {
	e, _, _ := newEngine(t)
	exec := testutil.NewExec("x", "t")
	_, err := e.Register(exec)
	require.NoError(t, err)

	require.NoError(t, e.Invoke(context.Background(), "x", map[string]any{"k": 1}))
	require.Equal(t, []any{map[string]any{"k": 1}}, exec.Calls())
}

func TestDispose(t *testing.T) {
	e, fb, _ := newEngine(t)
	dir := t.TempDir()
	path := testutil.WriteFake(t, dir, "a.fake", "a", "t", "exec")
	ctx := context.Background()

	require.NoError(t, e.LoadOne(ctx, path))
	require.NoError(t, e.ArmWatcher(dir))
	inst := fb.Instance(path).(*testutil.Exec)

	require.NoError(t, e.Dispose())
	require.True(t, fb.Closed())
	require.Equal(t, 1, inst.UnregisteredCount())
	require.Empty(t, e.Watching())

	require.ErrorIs(t, e.LoadOne(ctx, path), engine.ErrDisposed)
	require.ErrorIs(t, e.ArmWatcher(dir), engine.ErrDisposed)
	_, err := e.Register(testutil.NewPlain("late", "t"))
	require.ErrorIs(t, err, engine.ErrDisposed)
	require.NoError(t, e.Dispose())
}

func TestTracing_RecordsLoadSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	provider := tracing.NewProviderWithExporter(exp)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e, _, _ := newEngine(t, engine.WithTracer(provider.Tracer()))
	dir := t.TempDir()
	testutil.WriteFake(t, dir, "a.fake", "a", "t", "exec")
	testutil.WriteFake(t, dir, "b.fake", "b", "t", "fail")

	require.False(t, e.LoadDirectory(context.Background(), dir))

	spans := exp.GetSpans()
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name)
	}
	require.ElementsMatch(t, []string{tracing.SpanLoadFile, tracing.SpanLoadFile, tracing.SpanLoadDirectory}, names)

	dirSpan := spans[len(spans)-1]
	require.Equal(t, tracing.SpanLoadDirectory, dirSpan.Name)
	for _, s := range spans[:len(spans)-1] {
		require.Equal(t, dirSpan.SpanContext.TraceID(), s.SpanContext.TraceID(), "file spans are children of the directory span")
	}
}

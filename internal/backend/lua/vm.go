package lua

import (
	"context"
	"fmt"

	glua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/semaphore"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/script"
)

// definition is the table passed to registry.register.
type definition struct {
	name    string
	tag     string
	execute *glua.LFunction
	data    *glua.LFunction
	unload  *glua.LFunction
}

// vm owns one LState. gopher-lua states are not safe for concurrent use, so
// every call into it holds sem, a weight-one semaphore that gives up when the
// caller's context ends.
//
// A script may reach itself again through the host, directly or through other
// scripts. Those calls arrive on the goroutine that already holds sem, with a
// context carrying vmKey, and run without acquiring it again.
type vm struct {
	sem   *semaphore.Weighted
	L     *glua.LState
	chunk string
	host  script.Host

	registered []definition
	closed     bool
}

// install exposes the registry table to scripts.
func (v *vm) install() {
	tbl := v.L.NewTable()
	v.L.SetFuncs(tbl, map[string]glua.LGFunction{
		"register":      v.register,
		"log":           v.log,
		"invoke":        v.invoke,
		"fetch":         v.fetch,
		"names_of_type": v.namesOfType,
	})
	v.L.SetGlobal("registry", tbl)
}

func (v *vm) register(L *glua.LState) int {
	tbl := L.CheckTable(1)
	def := definition{
		name: glua.LVAsString(tbl.RawGetString("name")),
		tag:  glua.LVAsString(tbl.RawGetString("type")),
	}
	if def.tag == "" {
		def.tag = DefaultType
	}
	var ok bool
	for field, dst := range map[string]**glua.LFunction{
		"execute": &def.execute,
		"data":    &def.data,
		"unload":  &def.unload,
	} {
		lv := tbl.RawGetString(field)
		if lv == glua.LNil {
			continue
		}
		if *dst, ok = lv.(*glua.LFunction); !ok {
			L.ArgError(1, fmt.Sprintf("%s must be a function, got %s", field, lv.Type()))
			return 0
		}
	}
	v.registered = append(v.registered, def)
	return 0
}

func (v *vm) log(L *glua.LState) int {
	msg := L.CheckString(1)
	name := v.chunk
	if len(v.registered) > 0 {
		name = v.registered[0].name
	}
	log.Info(log.CatScript, msg, "script", name)
	return 0
}

func (v *vm) invoke(L *glua.LState) int {
	if v.host == nil {
		L.RaiseError("registry.invoke called before registration")
		return 0
	}
	name := L.CheckString(1)
	data := fromLua(L.Get(2))
	if err := v.host.Invoke(L.Context(), name, data); err != nil {
		L.Push(glua.LString(err.Error()))
		return 1
	}
	return 0
}

func (v *vm) fetch(L *glua.LState) int {
	if v.host == nil {
		L.RaiseError("registry.fetch called before registration")
		return 0
	}
	value, ok := v.host.Fetch(L.Context(), L.CheckString(1))
	if !ok {
		L.Push(glua.LNil)
		return 1
	}
	L.Push(toLua(L, value))
	return 1
}

func (v *vm) namesOfType(L *glua.LState) int {
	if v.host == nil {
		L.RaiseError("registry.names_of_type called before registration")
		return 0
	}
	names := v.host.NamesOfType(L.CheckString(1))
	out := L.CreateTable(len(names), 0)
	for _, n := range names {
		out.Append(glua.LString(n))
	}
	L.Push(out)
	return 1
}

type vmKey struct{ v *vm }

func newVM(L *glua.LState, chunk string) *vm {
	return &vm{sem: semaphore.NewWeighted(1), L: L, chunk: chunk}
}

func (v *vm) lock(ctx context.Context) error {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: waiting for vm: %w", v.chunk, err)
	}
	return nil
}

func (v *vm) unlock() { v.sem.Release(1) }

// call runs fn with args under ctx and returns its first result.
func (v *vm) call(ctx context.Context, fn *glua.LFunction, args ...any) (glua.LValue, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(vmKey{v}) != nil {
		return v.callLocked(ctx, fn, args...)
	}
	if err := v.lock(ctx); err != nil {
		return glua.LNil, err
	}
	defer v.unlock()
	return v.callLocked(context.WithValue(ctx, vmKey{v}, true), fn, args...)
}

// callLocked is call with sem held. The LState's previous context is restored
// afterwards so a nested call leaves its caller's deadline in place.
func (v *vm) callLocked(ctx context.Context, fn *glua.LFunction, args ...any) (result glua.LValue, err error) {
	if v.closed {
		return glua.LNil, fmt.Errorf("%s: vm closed", v.chunk)
	}

	prev := v.L.Context()
	v.L.SetContext(ctx)
	defer func() {
		if prev != nil {
			v.L.SetContext(prev)
		} else {
			v.L.RemoveContext()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", v.chunk, r)
		}
	}()

	largs := make([]glua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLua(v.L, a)
	}
	if err := v.L.CallByParam(glua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		return glua.LNil, err
	}
	result = v.L.Get(-1)
	v.L.Pop(1)
	return result, nil
}

func (v *vm) close(unload *glua.LFunction) {
	if unload != nil {
		if _, err := v.call(context.Background(), unload); err != nil {
			log.ErrorErr(log.CatBackend, "lua unload failed", err, "chunk", v.chunk)
		}
	}
	_ = v.lock(context.Background())
	defer v.unlock()
	if !v.closed {
		v.closed = true
		v.L.Close()
	}
}

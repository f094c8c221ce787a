package lua

import (
	"context"
	"fmt"

	glua "github.com/yuin/gopher-lua"

	"github.com/zjrosen/hotswap/internal/script"
)

// instance is a registered Lua script with no capabilities.
type instance struct {
	vm  *vm
	def definition
}

func (i *instance) Name() string    { return i.def.name }
func (i *instance) TypeTag() string { return i.def.tag }

func (i *instance) OnRegistered(host script.Host) {
	_ = i.vm.lock(context.Background())
	i.vm.host = host
	i.vm.unlock()
}

func (i *instance) OnUnregistered() {
	i.vm.close(i.def.unload)
}

type executable struct{ *instance }

func (e executable) Execute(ctx context.Context, data any) error {
	ret, err := e.vm.call(ctx, e.def.execute, data)
	if err != nil {
		return err
	}
	// A script may report failure by returning an error string.
	if s, ok := ret.(glua.LString); ok && s != "" {
		return fmt.Errorf("%s: %s", e.def.name, string(s))
	}
	return nil
}

type producer struct{ *instance }

func (p producer) Data(ctx context.Context) (any, error) {
	ret, err := p.vm.call(ctx, p.def.data)
	if err != nil {
		return nil, err
	}
	return fromLua(ret), nil
}

type execProducer struct {
	executable
	producer
}

func (e execProducer) Name() string                  { return e.executable.Name() }
func (e execProducer) TypeTag() string               { return e.executable.TypeTag() }
func (e execProducer) OnRegistered(host script.Host) { e.executable.OnRegistered(host) }
func (e execProducer) OnUnregistered()               { e.executable.OnUnregistered() }

// newInstance picks the Go type exposing exactly the capabilities def declares.
func newInstance(v *vm, def definition) script.Instance {
	base := &instance{vm: v, def: def}
	switch {
	case def.execute != nil && def.data != nil:
		return execProducer{executable{base}, producer{base}}
	case def.execute != nil:
		return executable{base}
	case def.data != nil:
		return producer{base}
	default:
		return base
	}
}

var (
	_ script.Unregisterable = (*instance)(nil)
	_ script.Executable     = executable{}
	_ script.DataProducer   = producer{}
	_ script.Executable     = execProducer{}
	_ script.DataProducer   = execProducer{}
	_ script.Unregisterable = execProducer{}
)

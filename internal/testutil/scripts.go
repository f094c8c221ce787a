package testutil

import (
	"context"
	"sync"

	"github.com/zjrosen/hotswap/internal/script"
)

// Plain is a script instance with no capabilities.
// It counts its lifecycle hook calls and keeps the host it was given.
type Plain struct {
	name string
	tag  string

	mu           sync.Mutex
	host         script.Host
	registered   int
	unregistered int
	onRegistered func(script.Host)
}

// ScriptOption customizes a fake instance.
type ScriptOption func(*Plain)

// WithOnRegistered runs fn from the OnRegistered hook.
func WithOnRegistered(fn func(script.Host)) ScriptOption {
	return func(p *Plain) {
		p.onRegistered = fn
	}
}

// NewPlain creates a capability-less instance.
func NewPlain(name, tag string, opts ...ScriptOption) *Plain {
	p := &Plain{name: name, tag: tag}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plain) Name() string    { return p.name }
func (p *Plain) TypeTag() string { return p.tag }

func (p *Plain) OnRegistered(host script.Host) {
	p.mu.Lock()
	p.host = host
	p.registered++
	fn := p.onRegistered
	p.mu.Unlock()
	if fn != nil {
		fn(host)
	}
}

func (p *Plain) OnUnregistered() {
	p.mu.Lock()
	p.unregistered++
	p.mu.Unlock()
}

// Host returns the host captured by OnRegistered.
func (p *Plain) Host() script.Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.host
}

// RegisteredCount returns how many times OnRegistered ran.
func (p *Plain) RegisteredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered
}

// UnregisteredCount returns how many times OnUnregistered ran.
func (p *Plain) UnregisteredCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unregistered
}

// Exec is an executable instance that records every data context it receives.
type Exec struct {
	*Plain

	mu    sync.Mutex
	calls []any
	err   error
	fn    func(ctx context.Context, data any) error
}

// NewExec creates an executable instance.
func NewExec(name, tag string, opts ...ScriptOption) *Exec {
	return &Exec{Plain: NewPlain(name, tag, opts...)}
}

// Failing makes Execute return err.
func (e *Exec) Failing(err error) *Exec {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	return e
}

// Do makes Execute call fn after recording the call.
func (e *Exec) Do(fn func(ctx context.Context, data any) error) *Exec {
	e.mu.Lock()
	e.fn = fn
	e.mu.Unlock()
	return e
}

func (e *Exec) Execute(ctx context.Context, data any) error {
	e.mu.Lock()
	e.calls = append(e.calls, data)
	err, fn := e.err, e.fn
	e.mu.Unlock()
	if fn != nil {
		return fn(ctx, data)
	}
	return err
}

// Calls returns the recorded data contexts.
func (e *Exec) Calls() []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]any, len(e.calls))
	copy(out, e.calls)
	return out
}

// Data is a data-producing instance.
type Data struct {
	*Plain

	mu    sync.Mutex
	value any
	err   error
	calls int
}

// NewData creates a data-producing instance returning value.
func NewData(name, tag string, value any, opts ...ScriptOption) *Data {
	return &Data{Plain: NewPlain(name, tag, opts...), value: value}
}

// Failing makes Data return err.
func (d *Data) Failing(err error) *Data {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	return d
}

// Set changes the produced value.
func (d *Data) Set(value any) {
	d.mu.Lock()
	d.value = value
	d.mu.Unlock()
}

func (d *Data) Data(context.Context) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.value, nil
}

// DataCalls returns how many times Data ran.
func (d *Data) DataCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

var (
	_ script.Instance       = (*Plain)(nil)
	_ script.Unregisterable = (*Plain)(nil)
	_ script.Executable     = (*Exec)(nil)
	_ script.DataProducer   = (*Data)(nil)
)

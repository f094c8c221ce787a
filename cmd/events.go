package cmd

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zjrosen/hotswap/internal/presentation"
	"github.com/zjrosen/hotswap/internal/registry"
)

const settleQuiet = 50 * time.Millisecond

// eventPrinter writes engine events to a formatter from a single goroutine.
// Lifecycle events (registered, unregistered) are printed only when
// lifecycle is set; errors and warnings always are.
type eventPrinter struct {
	out       *presentation.Formatter
	lifecycle bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	last   atomic.Int64
}

func printEvents(events *registry.Events, out *presentation.Formatter, lifecycle bool) *eventPrinter {
	ctx, cancel := context.WithCancel(context.Background())
	p := &eventPrinter{out: out, lifecycle: lifecycle, cancel: cancel}
	p.last.Store(time.Now().UnixNano())

	registered := events.Registered.Subscribe(ctx)
	unregistered := events.Unregistered.Subscribe(ctx)
	errs := events.Errors.Subscribe(ctx)
	warnings := events.Warnings.Subscribe(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for registered != nil || unregistered != nil || errs != nil || warnings != nil {
			select {
			case e, ok := <-registered:
				if !ok {
					registered = nil
					continue
				}
				if p.lifecycle {
					detail := e.Payload.TypeTag
					if e.Payload.SourcePath != "" {
						detail += " " + e.Payload.SourcePath
					}
					_ = p.out.FormatEvent("registered", e.Payload.Name, detail)
				}
			case e, ok := <-unregistered:
				if !ok {
					unregistered = nil
					continue
				}
				if p.lifecycle {
					_ = p.out.FormatEvent("unregistered", e.Payload, "")
				}
			case e, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				_ = p.out.FormatEvent("error", "", e.Payload.Error())
			case e, ok := <-warnings:
				if !ok {
					warnings = nil
					continue
				}
				_ = p.out.FormatEvent("warning", "", e.Payload)
			}
			p.last.Store(time.Now().UnixNano())
		}
	}()
	return p
}

// Stop waits until no event has arrived for a short while, then
// unsubscribes and waits for the printer goroutine.
func (p *eventPrinter) Stop() {
	// Events published just before Stop may still be in flight.
	time.Sleep(settleQuiet)
	for {
		idle := time.Since(time.Unix(0, p.last.Load()))
		if idle >= settleQuiet {
			break
		}
		time.Sleep(settleQuiet - idle)
	}
	p.cancel()
	p.wg.Wait()
}

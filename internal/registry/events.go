package registry

import (
	"fmt"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/pubsub"
)

// Events holds the four lifecycle and diagnostic channels.
//
// Error carries caught failures only; expected-but-notable conditions
// (replacing a name, unknown name or tag) go to Warning.
type Events struct {
	Registered   *pubsub.Broker[Record]
	Unregistered *pubsub.Broker[string]
	Errors       *pubsub.Broker[error]
	Warnings     *pubsub.Broker[string]
}

// NewEvents creates the four brokers.
func NewEvents() *Events {
	return &Events{
		Registered:   pubsub.NewBroker[Record](),
		Unregistered: pubsub.NewBroker[string](),
		Errors:       pubsub.NewBroker[error](),
		Warnings:     pubsub.NewBroker[string](),
	}
}

// Close shuts down all four channels.
func (e *Events) Close() {
	e.Registered.Close()
	e.Unregistered.Close()
	e.Errors.Close()
	e.Warnings.Close()
}

// Error publishes err on the Error channel.
func (e *Events) Error(err error) {
	if err == nil {
		return
	}
	log.ErrorErr(log.CatRegistry, "script error", err)
	e.Errors.Publish(pubsub.ErrorEvent, err)
}

// Warn publishes a formatted message on the Warning channel.
func (e *Events) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn(log.CatRegistry, msg)
	e.Warnings.Publish(pubsub.WarningEvent, msg)
}

func (e *Events) registered(rec Record) {
	e.Registered.Publish(pubsub.RegisteredEvent, rec)
}

func (e *Events) unregistered(name string) {
	e.Unregistered.Publish(pubsub.UnregisteredEvent, name)
}

// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// LogLineEvent carries one formatted log line.
	LogLineEvent EventType = "log"

	// Script lifecycle and diagnostics.
	RegisteredEvent   EventType = "registered"
	UnregisteredEvent EventType = "unregistered"
	ErrorEvent        EventType = "error"
	WarningEvent      EventType = "warning"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
	// Seq is process-wide and increases with every Publish on any broker,
	// so events from different brokers can be put back in emission order.
	Seq uint64
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
	SubscribeFunc(fn func(Event[T])) (unsubscribe func())
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}

var (
	_ Subscriber[string] = (*Broker[string])(nil)
	_ Publisher[string]  = (*Broker[string])(nil)
)

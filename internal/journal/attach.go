package journal

import (
	"context"
	"time"

	"github.com/zjrosen/hotswap/internal/log"
	"github.com/zjrosen/hotswap/internal/pubsub"
	"github.com/zjrosen/hotswap/internal/registry"
)

// Attach journals every event published on events until the returned
// function is called.
func Attach(store *Store, events *registry.Events) (detach func()) {
	write := func(e Entry) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := store.Append(ctx, e); err != nil {
			log.ErrorErr(log.CatJournal, "journal append failed", err, "kind", e.Kind, "name", e.Name)
		}
	}

	unsubs := []func(){
		events.Registered.SubscribeFunc(func(ev pubsub.Event[registry.Record]) {
			rec := ev.Payload
			write(Entry{
				Seq:        ev.Seq,
				Kind:       KindRegistered,
				Name:       rec.Name,
				TypeTag:    rec.TypeTag,
				SourcePath: rec.SourcePath,
				Backend:    rec.Backend,
				RecordID:   rec.ID,
				Message:    rec.Caps.String(),
				CreatedAt:  ev.Timestamp,
			})
		}),
		events.Unregistered.SubscribeFunc(func(ev pubsub.Event[string]) {
			write(Entry{Seq: ev.Seq, Kind: KindUnregistered, Name: ev.Payload, CreatedAt: ev.Timestamp})
		}),
		events.Errors.SubscribeFunc(func(ev pubsub.Event[error]) {
			write(Entry{Seq: ev.Seq, Kind: KindError, Message: ev.Payload.Error(), CreatedAt: ev.Timestamp})
		}),
		events.Warnings.SubscribeFunc(func(ev pubsub.Event[string]) {
			write(Entry{Seq: ev.Seq, Kind: KindWarning, Message: ev.Payload, CreatedAt: ev.Timestamp})
		}),
	}

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

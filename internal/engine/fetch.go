package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/hotswap/internal/cachemanager"
	"github.com/zjrosen/hotswap/internal/pubsub"
	"github.com/zjrosen/hotswap/internal/registry"
)

// fetchCache memoizes Fetch per record generation. Keys are "name@id", so a
// reloaded script never serves its predecessor's value.
type fetchCache struct {
	reg   *registry.Registry
	cache *cachemanager.ReadThroughCache[string, any]
	ttl   time.Duration
	unsub func()

	mu   sync.Mutex
	keys map[string]string // name -> current cache key
}

func newFetchCache(reg *registry.Registry, events *registry.Events, ttl time.Duration) *fetchCache {
	f := &fetchCache{
		reg:  reg,
		ttl:  ttl,
		keys: make(map[string]string),
	}
	store := cachemanager.NewInMemoryCacheManager[string, any]("fetch", ttl, cachemanager.DefaultCleanupInterval)
	f.cache = cachemanager.NewReadThroughCache[string, any](store, f.produce, false)
	f.unsub = events.Unregistered.SubscribeFunc(func(e pubsub.Event[string]) {
		f.evict(e.Payload)
	})
	return f
}

func (f *fetchCache) get(ctx context.Context, name string) (any, bool) {
	rec, ok := f.reg.Lookup(name)
	if !ok {
		return f.reg.Fetch(ctx, name)
	}

	key := name + "@" + rec.ID
	f.mu.Lock()
	if prev, ok := f.keys[name]; ok && prev != key {
		f.cache.Invalidate(ctx, prev)
	}
	f.keys[name] = key
	f.mu.Unlock()

	return f.cache.Get(ctx, key, f.ttl)
}

func (f *fetchCache) produce(ctx context.Context, key string) (any, bool) {
	name := key
	if i := strings.LastIndex(key, "@"); i >= 0 {
		name = key[:i]
	}
	return f.reg.Fetch(ctx, name)
}

// evict drops the cached value for name unless it belongs to the record
// currently registered, which a replacement may already have installed.
func (f *fetchCache) evict(name string) {
	current := ""
	if rec, ok := f.reg.Lookup(name); ok {
		current = name + "@" + rec.ID
	}

	f.mu.Lock()
	key, ok := f.keys[name]
	if ok && key != current {
		delete(f.keys, name)
	} else {
		ok = false
	}
	f.mu.Unlock()
	if ok {
		f.cache.Invalidate(context.Background(), key)
	}
}

func (f *fetchCache) reset() {
	f.mu.Lock()
	f.keys = make(map[string]string)
	f.mu.Unlock()
	f.cache.Reset(context.Background())
}

func (f *fetchCache) close() {
	f.unsub()
	f.reset()
}

// Package cacheddata implements the versioned, publishable attribute family
// shared by every mutable piece of notifyable state: key-values, current
// and desired state history, shards, process info, and process-slot info.
// Each concrete type embeds Base, which owns the store round-trips,
// optimistic-concurrency version check, and watch re-arm.
package cacheddata

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/common/logging"
	"github.com/clusterlib/clusterlib/common/metrics"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

var logger = logging.GetLogger("cacheddata")

// Codec marshals and unmarshals a concrete cached-data type's staged
// content to and from the bytes stored at Base's backing path.
type Codec interface {
	// MarshalState returns the bytes to publish.
	MarshalState() ([]byte, error)
	// UnmarshalState replaces in-memory state with the decoded bytes. An
	// empty byte slice (never-yet-written path) must be accepted as the
	// type's zero value.
	UnmarshalState([]byte) error
}

// Base is embedded by every concrete cached-data type. It owns the single
// mutex that serialises all access to the attribute: both Base's own
// version/loaded bookkeeping and the concrete type's staged content, which
// its Codec methods read and write assuming the caller already holds the
// lock. Concrete types reuse Base's Lock/Unlock for their own exported
// accessors instead of declaring a mutex of their own, so a load or publish
// in flight excludes concurrent Get/Set on the same attribute.
type Base struct {
	Store store.Store
	Bus   *eventbus.Bus
	Path  string

	// NotifyableKey and EventType identify what to Post on the bus after a
	// successful load or publish; AttrName labels the metrics series.
	NotifyableKey string
	EventType     eventbus.EventType
	AttrName      string

	mu    sync.Mutex
	codec Codec

	version int64 // -1 until first successful load
	loaded  bool
	watched bool
}

// Lock acquires the attribute's mutex. Concrete types call this around
// their own exported accessors; Base itself holds it for the duration of
// Reset and Publish, including the Codec round-trip.
func (b *Base) Lock() { b.mu.Lock() }

// Unlock releases the attribute's mutex.
func (b *Base) Unlock() { b.mu.Unlock() }

// Init wires Base to its codec and registers the bus-driven re-arm/reload
// handler for Path. Concrete constructors call this once.
func (b *Base) Init(codec Codec) {
	b.codec = codec
	b.version = -1
	b.Bus.RegisterInternal(b.Path, func(ev store.WatchEvent) {
		ctx := context.Background()
		if err := b.Reset(ctx); err != nil {
			logger.Error("re-arm reload failed", "path", b.Path, "error", err)
			return
		}
		b.Bus.Post(eventbus.Event{Key: b.NotifyableKey, Type: b.EventType})
	})
}

// Reset reloads this attribute's content from the store and re-arms its
// watch. It does not otherwise change the attribute's watch registration —
// callers relying on a watch already in flight keep exactly one live watch
// per load, as every load path re-arms on completion.
func (b *Base) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, stat, watchCh, err := b.Store.Get(ctx, b.Path, true)
	if err != nil {
		if errors.Is(err, store.ErrNoNode) {
			return clerr.Wrap(clerr.KindRepositoryInternals, err, "backing path missing: "+b.Path)
		}
		return clerr.Wrap(clerr.KindRepositoryConnection, err, "load failed: "+b.Path)
	}
	if err := b.codec.UnmarshalState(data); err != nil {
		return clerr.Wrap(clerr.KindInconsistentState, err, "corrupt cached data at "+b.Path)
	}
	b.version = stat.Version
	b.loaded = true
	b.watched = true
	if watchCh != nil {
		go func() {
			ev, ok := <-watchCh
			if !ok {
				return
			}
			b.Bus.Feed(ev)
		}()
	}
	return nil
}

// EnsureLoaded loads the attribute if it has never been loaded.
func (b *Base) EnsureLoaded(ctx context.Context) error {
	b.mu.Lock()
	loaded := b.loaded
	b.mu.Unlock()
	if loaded {
		return nil
	}
	return b.Reset(ctx)
}

// Publish writes the codec's currently staged content to the store.
// unconditional=false fails with KindPublishConflict if the in-memory
// version is not immediately behind the store's version (a concurrent
// publish by another client).
func (b *Base) Publish(ctx context.Context, unconditional bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	payload, err := b.codec.MarshalState()
	if err != nil {
		return clerr.Wrap(clerr.KindInvalidArguments, err, "marshal failed for "+b.Path)
	}

	version := b.version
	if unconditional {
		version = -1
	}
	stat, err := b.Store.Set(ctx, b.Path, payload, version)
	if err != nil {
		if errors.Is(err, store.ErrBadVersion) {
			metrics.CachedDataPublishTotal.WithLabelValues(b.AttrName, "conflict").Inc()
			return clerr.Wrap(clerr.KindPublishConflict, err, fmt.Sprintf("stale publish at %s (local version %d)", b.Path, b.version))
		}
		metrics.CachedDataPublishTotal.WithLabelValues(b.AttrName, "error").Inc()
		return clerr.Wrap(clerr.KindRepositoryConnection, err, "publish failed: "+b.Path)
	}
	metrics.CachedDataPublishTotal.WithLabelValues(b.AttrName, "ok").Inc()
	b.version = stat.Version
	b.loaded = true
	b.Bus.Post(eventbus.Event{Key: b.NotifyableKey, Type: b.EventType})
	return nil
}

// Version returns the last-known store version, or -1 if never loaded.
func (b *Base) Version() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// Stats re-reads the store's metadata for this path without disturbing the
// in-memory cache or any watch.
func (b *Base) Stats(ctx context.Context) (store.Stat, error) {
	_, stat, _, err := b.Store.Get(ctx, b.Path, false)
	if err != nil {
		return store.Stat{}, clerr.Wrap(clerr.KindRepositoryConnection, err, "stat failed: "+b.Path)
	}
	return stat, nil
}

// Package eventbus normalises store watch fires into internal
// cache-invalidation handlers and a fixed set of typed user events, fanned
// out to per-handler serial dispatchers. The inbound side is an unbounded
// channel (eapache/channels.InfiniteChannel, as worker/storage/committee's
// block watcher uses) so a slow or absent consumer never blocks the store
// adapter's own watch-delivery goroutine.
package eventbus

import (
	"sync"
	"time"

	"github.com/eapache/channels"

	"github.com/clusterlib/clusterlib/common/logging"
	"github.com/clusterlib/clusterlib/common/metrics"
	"github.com/clusterlib/clusterlib/store"
)

var logger = logging.GetLogger("eventbus")

// EventType is one of the fixed user-visible event codes clusterlib
// dispatches.
type EventType int

const (
	EventCreation EventType = iota
	EventDeletion
	EventCurrentStateChange
	EventDesiredStateChange
	EventGroupsChange
	EventNodesChange
	EventDistributionsChange
	EventPropertyListsChange
	EventQueuesChange
	EventLeadershipChange
	EventClientStateChange
	EventProcessSlotInfoChange
	EventMasterStateChange
	EventShardsChange
	EventPropertyListValuesChange
	EventApplicationsChange
	EventLockNodeChange
	EventQueueChildChange
	EventEndOfService
)

// EventMask is a bitmask over EventType, used when registering a user
// handler so it only receives the event kinds it asked for.
type EventMask uint32

func maskBit(t EventType) EventMask { return 1 << uint(t) }

// MaskAll matches every event type, including end-of-service.
const MaskAll EventMask = EventMask(1<<uint(EventEndOfService+1)) - 1

// Mask builds an EventMask from a list of EventTypes.
func Mask(types ...EventType) EventMask {
	var m EventMask
	for _, t := range types {
		m |= maskBit(t)
	}
	return m
}

func (m EventMask) matches(t EventType) bool {
	return m&maskBit(t) != 0
}

// Event is a delivered, typed occurrence against a specific notifyable key.
type Event struct {
	Key  string
	Type EventType
}

// Handler processes one delivered Event. Handlers run one at a time on a
// dedicated per-registration goroutine; a panicking handler is recovered,
// logged, and does not stop future deliveries.
type Handler func(Event)

// HandlerID identifies a registered user handler for CancelHandler.
type HandlerID uint64

// InternalHandler reacts to a raw store watch fire on a specific path —
// invalidating a cached-data unit, reloading it, and re-arming its watch.
// It is responsible for translating the reload into zero or more Post
// calls describing the semantic change (e.g. a current-state reload posts
// EventCurrentStateChange against the owning notifyable's key).
type InternalHandler func(store.WatchEvent)

type registration struct {
	id      HandlerID
	key     string
	mask    EventMask
	handler Handler
	queue   chan Event
	cond    *Condition
}

// Bus is the event pipeline shared by one Factory: it ingests raw store
// watch events, routes them to internal cache-invalidation handlers keyed
// by backing path, and fans typed Events out to registered user handlers.
type Bus struct {
	inbound *channels.InfiniteChannel

	mu       sync.Mutex
	internal map[string][]InternalHandler
	byKey    map[string][]*registration
	nextID   HandlerID
	closed   bool
	closeWG  sync.WaitGroup
}

// New constructs a Bus and starts its internal dispatch pump.
func New() *Bus {
	b := &Bus{
		inbound:  channels.NewInfiniteChannel(),
		internal: map[string][]InternalHandler{},
		byKey:    map[string][]*registration{},
	}
	go b.pump()
	return b
}

// Feed enqueues a raw store watch event for internal routing. Safe to call
// from the store adapter's own callback goroutine: the InfiniteChannel
// never blocks the sender. Events fed after EndOfService are dropped.
func (b *Bus) Feed(ev store.WatchEvent) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}
	b.inbound.In() <- ev
}

// RegisterInternal adds a cache-invalidation handler for a specific backing
// path. Multiple handlers may share a path (e.g. a notifyable's
// currentState and the generic child-existence watch both touch the same
// directory).
func (b *Bus) RegisterInternal(path string, h InternalHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.internal[path] = append(b.internal[path], h)
}

func (b *Bus) pump() {
	for raw := range b.inbound.Out() {
		ev := raw.(store.WatchEvent)
		b.mu.Lock()
		handlers := append([]InternalHandler(nil), b.internal[ev.Path]...)
		b.mu.Unlock()
		for _, h := range handlers {
			func() {
				defer func() {
					if r := recover(); r != nil {
						logger.Error("internal handler panicked", "path", ev.Path, "recover", r)
					}
				}()
				h(ev)
			}()
		}
	}
}

// Post delivers a typed Event to every registered handler matching its key
// and mask. Each matching handler's delivery is enqueued on that handler's
// own serial goroutine so slow handlers never delay one another.
func (b *Bus) Post(ev Event) {
	b.mu.Lock()
	regs := append([]*registration(nil), b.byKey[ev.Key]...)
	b.mu.Unlock()

	metrics.EventDispatchTotal.WithLabelValues(eventTypeName(ev.Type)).Inc()
	for _, r := range regs {
		if r.mask.matches(ev.Type) {
			r.queue <- ev
		}
	}
}

// RegisterHandler registers h to receive Events posted against key whose
// Type is set in mask. Returns the HandlerID (for CancelHandler) and a
// Condition the handler may wait on via WaitUntilCondition; the bus
// signals it after every delivery to this handler.
func (b *Bus) RegisterHandler(key string, mask EventMask, h Handler) (HandlerID, *Condition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	r := &registration{
		id:      b.nextID,
		key:     key,
		mask:    mask,
		handler: h,
		queue:   make(chan Event, 64),
		cond:    newCondition(),
	}
	b.byKey[key] = append(b.byKey[key], r)
	b.closeWG.Add(1)
	go b.serialDispatch(r)
	return r.id, r.cond
}

func (b *Bus) serialDispatch(r *registration) {
	defer b.closeWG.Done()
	for ev := range r.queue {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("user handler panicked", "key", r.key, "recover", rec)
				}
			}()
			r.handler(ev)
		}()
		r.cond.signal()
	}
}

// CancelHandler unregisters a handler. Pending deliveries already queued to
// it complete; no new ones are enqueued after this returns.
func (b *Bus) CancelHandler(id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, regs := range b.byKey {
		for i, r := range regs {
			if r.id == id {
				b.byKey[key] = append(regs[:i], regs[i+1:]...)
				close(r.queue)
				return
			}
		}
	}
}

// EndOfService posts EventEndOfService to every registered handler and
// stops accepting new internal traffic, matching factory shutdown's
// "drain and terminate" contract.
func (b *Bus) EndOfService() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	keys := make([]string, 0, len(b.byKey))
	for k := range b.byKey {
		keys = append(keys, k)
	}
	b.mu.Unlock()

	for _, k := range keys {
		b.Post(Event{Key: k, Type: EventEndOfService})
	}
}

// Close stops the internal dispatch pump. Call after EndOfService and
// after all handlers have observed EventEndOfService.
func (b *Bus) Close() {
	b.inbound.Close()
}

func eventTypeName(t EventType) string {
	names := [...]string{
		"creation", "deletion", "current_state_change", "desired_state_change",
		"groups_change", "nodes_change", "distributions_change", "property_lists_change",
		"queues_change", "leadership_change", "client_state_change", "process_slot_info_change",
		"master_state_change", "shards_change", "property_list_values_change",
		"applications_change", "lock_node_change", "queue_child_change", "end_of_service",
	}
	if int(t) < 0 || int(t) >= len(names) {
		return "unknown"
	}
	return names[t]
}

// Condition is the advisory mutex/predicate pair a user handler waits on
// via WaitUntilCondition, signaled by the bus after each delivery to the
// handler that owns it. The caller supplies and checks its own predicate
// under Lock/Unlock; Condition only provides the wait/signal rendezvous.
type Condition struct {
	mu   sync.Mutex
	cond *sync.Cond
	gen  uint64
	met  bool
}

func newCondition() *Condition {
	c := &Condition{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Lock acquires the advisory mutex guarding the caller's predicate.
func (c *Condition) Lock() { c.mu.Lock() }

// Unlock releases the advisory mutex.
func (c *Condition) Unlock() { c.mu.Unlock() }

// WaitUntilCondition blocks, with the advisory mutex held, until signaled
// or timeout elapses (timeout<=0 waits forever). Callers must re-check
// their predicate after return: spurious wakeups are possible.
func (c *Condition) WaitUntilCondition(timeout time.Duration) {
	if timeout <= 0 {
		c.cond.Wait()
		return
	}
	done := make(chan struct{})
	startGen := c.gen
	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		if c.gen == startGen {
			c.cond.Broadcast()
		}
		c.mu.Unlock()
		close(done)
	})
	c.cond.Wait()
	timer.Stop()
	select {
	case <-done:
	default:
	}
}

// MeetsCondition reports whether the condition has been signaled since the
// last ResetCondition, without blocking. Mirrors the predicate field of
// the PredMutexCond a handler's wait used to be built on.
func (c *Condition) MeetsCondition() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.met
}

// ResetCondition clears the signaled flag. Callers follow the same
// discipline as PredMutexCond: reset before waiting again so a stale
// signal from a prior delivery isn't mistaken for a new one.
func (c *Condition) ResetCondition() {
	c.mu.Lock()
	c.met = false
	c.mu.Unlock()
}

// signal wakes any goroutine blocked in WaitUntilCondition. Internal: the
// bus calls this after each delivery.
func (c *Condition) signal() {
	c.mu.Lock()
	c.gen++
	c.met = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

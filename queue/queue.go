// Package queue implements clusterlib's durable FIFO work queue: elements
// are sequenced persistent children of a notifyable's elements directory,
// giving every element a monotonically increasing integer identifier that
// survives process restarts.
package queue

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/clusterlib/clusterlib/blockingqueue"
	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/common/metrics"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

// MaxPayload is the largest payload Put accepts.
const MaxPayload = 1 << 20 // 1 MiB

const elementTag = "el_"

// Queue is a durable FIFO bound to one notifyable's elements directory.
// Take follows spec.md §8's queue-specific msecTimeout convention: negative
// is non-blocking, zero and positive behave exactly as blockingqueue's own
// convention for those same values (zero checks once, positive bounds the
// wait), so the only translation needed at this boundary is clamping a
// negative duration to zero before handing it to the internal wake queue.
type Queue struct {
	store         store.Store
	bus           *eventbus.Bus
	notifyableKey string
	elementsKey   string

	wake    *blockingqueue.Queue[struct{}]
	closeCh chan struct{}
}

// New constructs a Queue bound to elementsKey and starts its watch loop,
// which wakes blocked Take calls when the store reports a new child.
func New(st store.Store, bus *eventbus.Bus, notifyableKey, elementsKey string) *Queue {
	q := &Queue{
		store:         st,
		bus:           bus,
		notifyableKey: notifyableKey,
		elementsKey:   elementsKey,
		wake:          blockingqueue.New[struct{}](),
		closeCh:       make(chan struct{}),
	}
	go q.watchLoop()
	return q
}

// Close stops the watch loop. Blocked Take calls are not interrupted;
// their own ctx or timeout governs their return.
func (q *Queue) Close() {
	close(q.closeCh)
}

func (q *Queue) watchLoop() {
	ctx := context.Background()
	for {
		_, watchCh, err := q.store.GetChildren(ctx, q.elementsKey, true)
		if err != nil {
			return
		}
		select {
		case <-watchCh:
			q.wake.Put(struct{}{})
		case <-q.closeCh:
			return
		}
	}
}

// PutTo stores payload under elementsKey directly, without constructing a
// long-lived Queue or its watch loop. It is for one-shot producers — the
// rpc package uses it to deliver a response envelope to a client's
// response queue by path alone.
func PutTo(ctx context.Context, st store.Store, elementsKey string, payload []byte) (int64, error) {
	if len(payload) > MaxPayload {
		return 0, clerr.Newf(clerr.KindInvalidArguments, "queue payload exceeds %d bytes", MaxPayload)
	}
	path, err := st.Create(ctx, elementsKey+"/"+elementTag, payload, store.CreateFlags{Sequence: true})
	if err != nil {
		return 0, clerr.Wrap(clerr.KindRepositoryConnection, err, "queue put failed: "+elementsKey)
	}
	return idOf(path)
}

// Put stores payload as a new lowest-priority element and returns its
// sequence identifier.
func (q *Queue) Put(ctx context.Context, payload []byte) (int64, error) {
	if len(payload) > MaxPayload {
		return 0, clerr.Newf(clerr.KindInvalidArguments, "queue payload exceeds %d bytes", MaxPayload)
	}
	path, err := q.store.Create(ctx, q.elementsKey+"/"+elementTag, payload, store.CreateFlags{Sequence: true})
	if err != nil {
		return 0, clerr.Wrap(clerr.KindRepositoryConnection, err, "queue put failed: "+q.elementsKey)
	}
	id, err := idOf(path)
	if err != nil {
		return 0, err
	}
	metrics.QueueDepth.WithLabelValues(q.elementsKey).Inc()
	q.bus.Post(eventbus.Event{Key: q.notifyableKey, Type: eventbus.EventQueueChildChange})
	return id, nil
}

// Take removes and returns the lowest-id element, per the msecTimeout
// convention documented on Queue. ok is false if nothing was taken.
func (q *Queue) Take(ctx context.Context, timeout time.Duration) (payload []byte, id int64, ok bool, err error) {
	effective := timeout
	if effective < 0 {
		effective = 0
	}

	var deadline time.Time
	bounded := effective > 0
	if bounded {
		deadline = time.Now().Add(effective)
	}

	for {
		payload, id, ok, err = q.popLowest(ctx)
		if err != nil || ok {
			return
		}
		if effective == 0 {
			return nil, 0, false, nil
		}
		wait := effective
		if bounded {
			wait = time.Until(deadline)
			if wait <= 0 {
				return nil, 0, false, nil
			}
		}
		q.wake.Take(wait)
	}
}

// Front peeks the lowest-id element without removing it. ok is false if
// the queue is empty.
func (q *Queue) Front(ctx context.Context) (payload []byte, id int64, ok bool, err error) {
	names, err := q.sortedNames(ctx)
	if err != nil {
		return nil, 0, false, err
	}
	if len(names) == 0 {
		return nil, 0, false, nil
	}
	data, _, _, err := q.store.Get(ctx, q.elementsKey+"/"+names[0], false)
	if err != nil {
		if errors.Is(err, store.ErrNoNode) {
			return q.Front(ctx) // raced with a concurrent Take; retry
		}
		return nil, 0, false, clerr.Wrap(clerr.KindRepositoryConnection, err, "queue front failed: "+q.elementsKey)
	}
	id, err = idOf(names[0])
	if err != nil {
		return nil, 0, false, err
	}
	return data, id, true, nil
}

// RemoveElement deletes the element with the given id, if present.
func (q *Queue) RemoveElement(ctx context.Context, id int64) error {
	name := elementTag + formatID(id)
	if err := q.store.Delete(ctx, q.elementsKey+"/"+name, -1); err != nil && !errors.Is(err, store.ErrNoNode) {
		return clerr.Wrap(clerr.KindRepositoryConnection, err, "queue remove element failed: "+q.elementsKey)
	}
	return nil
}

// Clear removes every element currently enqueued. New elements put
// concurrently with Clear may survive it.
func (q *Queue) Clear(ctx context.Context) error {
	names, err := q.sortedNames(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := q.store.Delete(ctx, q.elementsKey+"/"+n, -1); err != nil && !errors.Is(err, store.ErrNoNode) {
			return clerr.Wrap(clerr.KindRepositoryConnection, err, "queue clear failed: "+q.elementsKey)
		}
	}
	return nil
}

// Size reports the current element count. It takes no lock: the result
// may be stale the instant it is returned.
func (q *Queue) Size(ctx context.Context) (int, error) {
	names, err := q.sortedNames(ctx)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Empty reports whether the queue currently has no elements.
func (q *Queue) Empty(ctx context.Context) (bool, error) {
	n, err := q.Size(ctx)
	return n == 0, err
}

func (q *Queue) popLowest(ctx context.Context) (payload []byte, id int64, ok bool, err error) {
	names, err := q.sortedNames(ctx)
	if err != nil {
		return nil, 0, false, err
	}
	for _, n := range names {
		path := q.elementsKey + "/" + n
		data, _, _, getErr := q.store.Get(ctx, path, false)
		if getErr != nil {
			if errors.Is(getErr, store.ErrNoNode) {
				continue // raced with a concurrent Take
			}
			return nil, 0, false, clerr.Wrap(clerr.KindRepositoryConnection, getErr, "queue take read failed: "+q.elementsKey)
		}
		if delErr := q.store.Delete(ctx, path, -1); delErr != nil {
			if errors.Is(delErr, store.ErrNoNode) {
				continue // lost the race to another consumer
			}
			return nil, 0, false, clerr.Wrap(clerr.KindRepositoryConnection, delErr, "queue take delete failed: "+q.elementsKey)
		}
		elID, idErr := idOf(n)
		if idErr != nil {
			return nil, 0, false, idErr
		}
		metrics.QueueDepth.WithLabelValues(q.elementsKey).Dec()
		q.bus.Post(eventbus.Event{Key: q.notifyableKey, Type: eventbus.EventQueueChildChange})
		return data, elID, true, nil
	}
	return nil, 0, false, nil
}

func (q *Queue) sortedNames(ctx context.Context) ([]string, error) {
	names, _, err := q.store.GetChildren(ctx, q.elementsKey, false)
	if err != nil {
		if errors.Is(err, store.ErrNoNode) {
			return nil, nil
		}
		return nil, clerr.Wrap(clerr.KindRepositoryConnection, err, "queue list failed: "+q.elementsKey)
	}
	sort.Strings(names)
	return names, nil
}

func idOf(nameOrPath string) (int64, error) {
	if len(nameOrPath) < 10 {
		return 0, clerr.Newf(clerr.KindInconsistentState, "malformed queue element name: %s", nameOrPath)
	}
	return strconv.ParseInt(nameOrPath[len(nameOrPath)-10:], 10, 64)
}

func formatID(id int64) string {
	s := strconv.FormatInt(id, 10)
	for len(s) < 10 {
		s = "0" + s
	}
	return s
}

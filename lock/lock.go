// Package lock implements clusterlib's fair shared/exclusive distributed
// lock protocol: bidders place a sequence-ephemeral child under a lock
// directory and a bidder acquires once no disqualifying predecessor bid
// remains. An in-process wait map lets multiple goroutines of one client
// share a single armed watch on a given predecessor path.
package lock

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/common/metrics"
	"github.com/clusterlib/clusterlib/store"
	"github.com/clusterlib/clusterlib/timer"
)

// Mode is the contention discipline of a lock bid.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

func (m Mode) tag() string {
	if m == Exclusive {
		return "DIST_LOCK_EXCL"
	}
	return "DIST_LOCK_SHARED"
}

const partialLockTag = "bid"

// Well-known lock names, one directory per notifyable per name.
const (
	NotifyableLock = "NOTIFYABLE_LOCK"
	OwnershipLock  = "OWNERSHIP_LOCK"
	ChildLock      = "CHILD_LOCK"
)

// heldLock tracks one (lockDir, mode) pair this client currently holds or
// is contending for, letting re-entrant Acquire calls from other
// goroutines in the same process avoid placing a second store bid.
type heldLock struct {
	mu       sync.Mutex
	refcount int
	bidPath  string
}

// Manager issues and tracks every lock bid placed by one client session.
// One Manager is owned per Factory-level client.
type Manager struct {
	store    store.Store
	timers   *timer.Service
	clientID string

	mu    sync.Mutex
	held  map[string]*heldLock
	waits sync.Map // predecessor path -> *predWaiters

	sessionMu sync.Mutex
	expired   bool
}

type predWaiters struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

func (w *predWaiters) signal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.set {
		w.set = true
		close(w.ch)
	}
}

// NewManager constructs a Manager bound to st, with a fresh client identity
// for this session. It watches st's session events so that a session loss
// invalidates every lock this client believes it holds, and uses ts to
// time out bounded acquires.
func NewManager(st store.Store, ts *timer.Service) *Manager {
	m := &Manager{
		store:    st,
		timers:   ts,
		clientID: uuid.NewString(),
		held:     make(map[string]*heldLock),
	}
	go m.watchSession()
	return m
}

func (m *Manager) watchSession() {
	for ev := range m.store.SessionEvents() {
		if ev.Type == store.SessionExpired || ev.Type == store.SessionEnded {
			m.sessionMu.Lock()
			m.expired = true
			m.sessionMu.Unlock()
			m.mu.Lock()
			m.held = make(map[string]*heldLock)
			m.mu.Unlock()
			return
		}
	}
}

func heldKey(lockDir string, mode Mode) string {
	return lockDir + "#" + mode.tag()
}

func (m *Manager) heldLockFor(lockDir string, mode Mode) *heldLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := heldKey(lockDir, mode)
	hl, ok := m.held[key]
	if !ok {
		hl = &heldLock{}
		m.held[key] = hl
	}
	return hl
}

// Acquire blocks until a bid in mode against lockDir is granted, according
// to msecTimeout's lock-style convention: negative waits forever, zero is
// non-blocking, positive is a bounded wait in milliseconds. On timeout the
// bid is withdrawn and the call fails with clerr.KindLockTimeout.
func (m *Manager) Acquire(ctx context.Context, lockDir string, mode Mode, msecTimeout int) error {
	m.sessionMu.Lock()
	expired := m.expired
	m.sessionMu.Unlock()
	if expired {
		return clerr.New(clerr.KindRepositoryConnection, "session lost: "+lockDir)
	}

	hl := m.heldLockFor(lockDir, mode)
	hl.mu.Lock()
	defer hl.mu.Unlock()
	if hl.refcount > 0 {
		hl.refcount++
		return nil
	}

	bidPath, err := m.store.Create(ctx, lockDir+"/"+partialLockTag+"_"+mode.tag()+"_"+m.clientID+"_", nil,
		store.CreateFlags{Ephemeral: true, Sequence: true})
	if err != nil {
		return clerr.Wrap(clerr.KindRepositoryConnection, err, "lock bid failed: "+lockDir)
	}

	waitStart := time.Now()
	deadline, bounded := m.deadlineFor(msecTimeout)
	for {
		pred, err := m.predecessor(ctx, lockDir, bidPath, mode)
		if err != nil {
			_ = m.store.Delete(ctx, bidPath, -1)
			return err
		}
		if pred == "" {
			metrics.LockWaitSeconds.WithLabelValues(mode.tag()).Observe(time.Since(waitStart).Seconds())
			hl.refcount = 1
			hl.bidPath = bidPath
			return nil
		}
		if msecTimeout == 0 {
			_ = m.store.Delete(ctx, bidPath, -1)
			return clerr.New(clerr.KindLockTimeout, "non-blocking acquire found a predecessor: "+lockDir)
		}

		w := m.armWatch(ctx, pred)
		if w == nil {
			continue // predecessor vanished between list and watch; re-check
		}
		if bounded {
			select {
			case <-w.ch:
			case <-deadline:
				_ = m.store.Delete(ctx, bidPath, -1)
				return clerr.New(clerr.KindLockTimeout, "lock acquire timed out: "+lockDir)
			case <-ctx.Done():
				_ = m.store.Delete(ctx, bidPath, -1)
				return clerr.Wrap(clerr.KindRepositoryConnection, ctx.Err(), "lock acquire cancelled: "+lockDir)
			}
		} else {
			select {
			case <-w.ch:
			case <-ctx.Done():
				_ = m.store.Delete(ctx, bidPath, -1)
				return clerr.Wrap(clerr.KindRepositoryConnection, ctx.Err(), "lock acquire cancelled: "+lockDir)
			}
		}
	}
}

// Release gives up one reference on (lockDir, mode). The store bid is
// withdrawn only once every holder in this process has released.
func (m *Manager) Release(ctx context.Context, lockDir string, mode Mode) error {
	hl := m.heldLockFor(lockDir, mode)
	hl.mu.Lock()
	defer hl.mu.Unlock()
	if hl.refcount == 0 {
		return clerr.New(clerr.KindInvalidMethod, "release without a matching acquire: "+lockDir)
	}
	hl.refcount--
	if hl.refcount > 0 {
		return nil
	}
	path := hl.bidPath
	hl.bidPath = ""
	if path == "" {
		return nil
	}
	if err := m.store.Delete(ctx, path, -1); err != nil && !errors.Is(err, store.ErrNoNode) {
		return clerr.Wrap(clerr.KindRepositoryConnection, err, "lock release failed: "+lockDir)
	}
	return nil
}

// HasLock reports whether this client currently holds lockDir in mode.
func (m *Manager) HasLock(lockDir string, mode Mode) bool {
	hl := m.heldLockFor(lockDir, mode)
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return hl.refcount > 0
}

// predecessor returns the bid name that bidPath must wait on, or "" if
// bidPath already holds the lock. A shared bidder only waits on an
// earlier exclusive bid; an exclusive bidder waits on any earlier bid.
func (m *Manager) predecessor(ctx context.Context, lockDir, bidPath string, mode Mode) (string, error) {
	names, _, err := m.store.GetChildren(ctx, lockDir, false)
	if err != nil {
		return "", clerr.Wrap(clerr.KindRepositoryConnection, err, "list bids failed: "+lockDir)
	}
	mine := bidPath[strings.LastIndex(bidPath, "/")+1:]
	mySeq := bidSeq(mine)

	sort.Slice(names, func(i, j int) bool { return bidSeq(names[i]) < bidSeq(names[j]) })

	best := ""
	for _, n := range names {
		if bidSeq(n) >= mySeq {
			break
		}
		if mode == Exclusive || strings.Contains(n, "_"+Exclusive.tag()+"_") {
			best = n
		}
	}
	if best == "" {
		return "", nil
	}
	return lockDir + "/" + best, nil
}

func (m *Manager) armWatch(ctx context.Context, predPath string) *predWaiters {
	if v, ok := m.waits.Load(predPath); ok {
		return v.(*predWaiters)
	}
	w := &predWaiters{ch: make(chan struct{})}
	actual, loaded := m.waits.LoadOrStore(predPath, w)
	w = actual.(*predWaiters)
	if loaded {
		return w
	}

	ok, _, watchCh, err := m.store.Exists(ctx, predPath, true)
	if err != nil || !ok {
		m.waits.Delete(predPath)
		w.signal()
		return nil
	}
	go func() {
		<-watchCh
		m.waits.Delete(predPath)
		w.signal()
	}()
	return w
}

func bidSeq(name string) int64 {
	if len(name) < 10 {
		return -1
	}
	n, err := strconv.ParseInt(name[len(name)-10:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func (m *Manager) deadlineFor(msecTimeout int) (<-chan struct{}, bool) {
	if msecTimeout <= 0 {
		return nil, false
	}
	ch := make(chan struct{})
	m.timers.Schedule(time.Duration(msecTimeout)*time.Millisecond, func() { close(ch) })
	return ch, true
}

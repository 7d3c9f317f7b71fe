// Package timer implements the factory's shared scheduled-callback service:
// a monotonic millisecond clock driving a min-heap of pending callbacks,
// grounded on the min-priority-queue-over-a-heap.Interface pattern the
// storage committee worker uses for its out-of-order round queue.
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// ID identifies a scheduled callback for later cancellation.
type ID uint64

type task struct {
	id      ID
	fireAt  time.Time
	cb      func()
	index   int
	pending bool
}

type taskHeap []*task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Service is a single shared goroutine driving a heap of scheduled
// callbacks. One Service is owned per factory.
type Service struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[ID]*task
	nextID  ID
	wake    chan struct{}
	closeCh chan struct{}
	closed  bool
}

// New starts a Service's driver goroutine and returns it.
func New() *Service {
	s := &Service{
		tasks:   map[ID]*task{},
		wake:    make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule arranges for cb to run, on the Service's own goroutine, after d
// elapses. Returns an ID usable with Cancel.
func (s *Service) Schedule(d time.Duration, cb func()) ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	t := &task{id: id, fireAt: time.Now().Add(d), cb: cb, pending: true}
	s.tasks[id] = t
	heap.Push(&s.heap, t)
	s.nudge()
	return id
}

// Cancel prevents a pending callback from firing. Returns false if the
// callback already fired or was never scheduled. O(log n).
func (s *Service) Cancel(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || !t.pending {
		return false
	}
	heap.Remove(&s.heap, t.index)
	delete(s.tasks, id)
	t.pending = false
	s.nudge()
	return true
}

// Close stops the driver goroutine. Pending callbacks do not fire.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.closeCh)
}

func (s *Service) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var due []*task
		now := time.Now()
		for s.heap.Len() > 0 && s.heap[0].fireAt.Before(now.Add(time.Millisecond)) {
			t := heap.Pop(&s.heap).(*task)
			if !t.pending {
				continue
			}
			delete(s.tasks, t.id)
			t.pending = false
			due = append(due, t)
		}
		var wait time.Duration = time.Hour
		if s.heap.Len() > 0 {
			wait = time.Until(s.heap[0].fireAt)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		for _, t := range due {
			t.cb()
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.closeCh:
			return
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// Package memstore is an in-process fake of store.Store, grounded on the
// teacher's pattern of backend-pluggable interfaces (storage.New selecting
// among memory/leveldb/client implementations behind one api.Backend). It
// gives every other clusterlib package a dependency-free store for tests.
package memstore

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clusterlib/clusterlib/store"
)

type node struct {
	data      []byte
	version   int64
	ephemeral bool
	ctime     time.Time
	mtime     time.Time

	dataWatches     []chan store.WatchEvent
	existsWatches   []chan store.WatchEvent
	childrenWatches []chan store.WatchEvent
}

// Store is an in-memory implementation of store.Store. The zero value is
// not usable; construct with New.
type Store struct {
	mu       sync.Mutex
	nodes    map[string]*node
	seq      map[string]int64
	sessions chan store.SessionEvent
	closed   bool
}

// New returns a connected, empty Store.
func New() *Store {
	s := &Store{
		nodes:    map[string]*node{"/": {ctime: time.Now(), mtime: time.Now()}},
		seq:      map[string]int64{},
		sessions: make(chan store.SessionEvent, 16),
	}
	s.sessions <- store.SessionEvent{Type: store.SessionConnected}
	return s
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	c := path.Clean(p)
	if !strings.HasPrefix(c, "/") {
		c = "/" + c
	}
	return c
}

func parentOf(p string) string {
	if p == "/" {
		return "/"
	}
	return clean(path.Dir(p))
}

func (s *Store) Create(_ context.Context, p string, data []byte, flags store.CreateFlags) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", store.ErrClosed
	}
	p = clean(p)
	parent := parentOf(p)
	if _, ok := s.nodes[parent]; !ok && p != "/" {
		return "", fmt.Errorf("memstore: create %s: %w", p, store.ErrNoNode)
	}

	final := p
	if flags.Sequence {
		n := s.seq[parent]
		s.seq[parent] = n + 1
		final = fmt.Sprintf("%s%010d", p, n)
	}
	if _, ok := s.nodes[final]; ok {
		return "", fmt.Errorf("memstore: create %s: %w", final, store.ErrNodeExists)
	}

	now := time.Now()
	nd := &node{data: append([]byte(nil), data...), version: 0, ephemeral: flags.Ephemeral, ctime: now, mtime: now}
	s.nodes[final] = nd

	s.fireExists(final, store.EventNodeCreated)
	s.fireChildren(parent, store.EventNodeChildrenChanged)
	return final, nil
}

func (s *Store) Delete(_ context.Context, p string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	p = clean(p)
	nd, ok := s.nodes[p]
	if !ok {
		return fmt.Errorf("memstore: delete %s: %w", p, store.ErrNoNode)
	}
	if version >= 0 && nd.version != version {
		return fmt.Errorf("memstore: delete %s: %w", p, store.ErrBadVersion)
	}
	prefix := p + "/"
	for k := range s.nodes {
		if strings.HasPrefix(k, prefix) {
			return fmt.Errorf("memstore: delete %s: %w", p, store.ErrNotEmpty)
		}
	}
	s.fireData(p, store.EventNodeDeleted)
	s.fireExists(p, store.EventNodeDeleted)
	delete(s.nodes, p)
	s.fireChildren(parentOf(p), store.EventNodeChildrenChanged)
	return nil
}

func (s *Store) Exists(_ context.Context, p string, watch bool) (bool, store.Stat, <-chan store.WatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, store.Stat{}, nil, store.ErrClosed
	}
	p = clean(p)
	nd, ok := s.nodes[p]
	var ch chan store.WatchEvent
	if watch {
		ch = make(chan store.WatchEvent, 1)
		if !ok {
			s.pendingExists(p, ch)
		} else {
			nd.existsWatches = append(nd.existsWatches, ch)
		}
	}
	if !ok {
		return false, store.Stat{}, ch, nil
	}
	return true, statOf(nd, s.childCount(p)), ch, nil
}

// pendingExists registers a watch for the creation of a path that does not
// yet exist, tracked on the parent's placeholder bucket.
func (s *Store) pendingExists(p string, ch chan store.WatchEvent) {
	ph, ok := s.nodes["\x00pending:"+p]
	if !ok {
		ph = &node{}
		s.nodes["\x00pending:"+p] = ph
	}
	ph.existsWatches = append(ph.existsWatches, ch)
}

func (s *Store) Get(_ context.Context, p string, watch bool) ([]byte, store.Stat, <-chan store.WatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.Stat{}, nil, store.ErrClosed
	}
	p = clean(p)
	nd, ok := s.nodes[p]
	if !ok {
		return nil, store.Stat{}, nil, fmt.Errorf("memstore: get %s: %w", p, store.ErrNoNode)
	}
	var ch chan store.WatchEvent
	if watch {
		ch = make(chan store.WatchEvent, 1)
		nd.dataWatches = append(nd.dataWatches, ch)
	}
	return append([]byte(nil), nd.data...), statOf(nd, s.childCount(p)), ch, nil
}

func (s *Store) Set(_ context.Context, p string, data []byte, version int64) (store.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Stat{}, store.ErrClosed
	}
	p = clean(p)
	nd, ok := s.nodes[p]
	if !ok {
		return store.Stat{}, fmt.Errorf("memstore: set %s: %w", p, store.ErrNoNode)
	}
	if version >= 0 && nd.version != version {
		return store.Stat{}, fmt.Errorf("memstore: set %s: %w", p, store.ErrBadVersion)
	}
	nd.data = append([]byte(nil), data...)
	nd.version++
	nd.mtime = time.Now()
	s.fireData(p, store.EventNodeDataChanged)
	s.fireExists(p, store.EventNodeDataChanged)
	return statOf(nd, s.childCount(p)), nil
}

func (s *Store) GetChildren(_ context.Context, p string, watch bool) ([]string, <-chan store.WatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, store.ErrClosed
	}
	p = clean(p)
	nd, ok := s.nodes[p]
	if !ok {
		return nil, nil, fmt.Errorf("memstore: getchildren %s: %w", p, store.ErrNoNode)
	}
	names := s.childNames(p)
	var ch chan store.WatchEvent
	if watch {
		ch = make(chan store.WatchEvent, 1)
		nd.childrenWatches = append(nd.childrenWatches, ch)
	}
	return names, ch, nil
}

func (s *Store) Sync(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) SessionEvents() <-chan store.SessionEvent {
	return s.sessions
}

// Close ends the session, deleting every ephemeral node it owns and
// notifying any watchers, matching a real ensemble's session-end cleanup.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var ephemeral []string
	for p, nd := range s.nodes {
		if nd.ephemeral {
			ephemeral = append(ephemeral, p)
		}
	}
	sort.Strings(ephemeral)
	for _, p := range ephemeral {
		s.fireData(p, store.EventNodeDeleted)
		s.fireExists(p, store.EventNodeDeleted)
		delete(s.nodes, p)
		s.fireChildren(parentOf(p), store.EventNodeChildrenChanged)
	}
	s.sessions <- store.SessionEvent{Type: store.SessionExpired}
	close(s.sessions)
	s.mu.Unlock()
	return nil
}

func (s *Store) childCount(p string) int {
	return len(s.childNames(p))
}

func (s *Store) childNames(p string) []string {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}
	seen := map[string]bool{}
	var out []string
	for k := range s.nodes {
		if strings.HasPrefix(k, "\x00pending:") {
			continue
		}
		if k == p || !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if rest == "" {
			continue
		}
		first := strings.SplitN(rest, "/", 2)[0]
		if !seen[first] {
			seen[first] = true
			out = append(out, first)
		}
	}
	sort.Strings(out)
	return out
}

func statOf(nd *node, numChildren int) store.Stat {
	return store.Stat{
		Version:     nd.version,
		Ctime:       nd.ctime,
		Mtime:       nd.mtime,
		DataLength:  len(nd.data),
		NumChildren: numChildren,
	}
}

func (s *Store) fireData(p string, t store.EventType) {
	nd, ok := s.nodes[p]
	if !ok {
		return
	}
	for _, ch := range nd.dataWatches {
		ch <- store.WatchEvent{Path: p, Type: t}
		close(ch)
	}
	nd.dataWatches = nil
}

func (s *Store) fireExists(p string, t store.EventType) {
	if nd, ok := s.nodes[p]; ok {
		for _, ch := range nd.existsWatches {
			ch <- store.WatchEvent{Path: p, Type: t}
			close(ch)
		}
		nd.existsWatches = nil
	}
	if ph, ok := s.nodes["\x00pending:"+p]; ok {
		for _, ch := range ph.existsWatches {
			ch <- store.WatchEvent{Path: p, Type: t}
			close(ch)
		}
		delete(s.nodes, "\x00pending:"+p)
	}
}

func (s *Store) fireChildren(p string, t store.EventType) {
	nd, ok := s.nodes[p]
	if !ok {
		return
	}
	for _, ch := range nd.childrenWatches {
		ch <- store.WatchEvent{Path: p, Type: t}
		close(ch)
	}
	nd.childrenWatches = nil
}

var _ store.Store = (*Store)(nil)

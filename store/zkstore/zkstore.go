// Package zkstore implements store.Store over a real coordination ensemble
// using github.com/samuel/go-zookeeper/zk, the client library this pack's
// etcd-mesos scheduler example uses for the same create/delete/watch
// contract this package exposes.
package zkstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samuel/go-zookeeper/zk"

	"github.com/clusterlib/clusterlib/common/logging"
	"github.com/clusterlib/clusterlib/store"
)

var logger = logging.GetLogger("store/zkstore")

// Store adapts a *zk.Conn to store.Store.
type Store struct {
	conn *zk.Conn

	mu       sync.Mutex
	sessions chan store.SessionEvent
	closed   bool
}

// New connects to the given ensemble and returns a ready Store. The
// returned Store owns the connection and must be Close()d by the caller.
func New(servers []string, sessionTimeout time.Duration) (*Store, error) {
	conn, zkEvents, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zkstore: connect: %w", err)
	}
	s := &Store{
		conn:     conn,
		sessions: make(chan store.SessionEvent, 16),
	}
	go s.pumpSessionEvents(zkEvents)
	return s, nil
}

func (s *Store) pumpSessionEvents(zkEvents <-chan zk.Event) {
	for ev := range zkEvents {
		if ev.Type != zk.EventSession {
			continue
		}
		var t store.SessionEventType
		switch ev.State {
		case zk.StateConnected, zk.StateHasSession:
			t = store.SessionConnected
		case zk.StateDisconnected:
			t = store.SessionDisconnected
		case zk.StateExpired:
			t = store.SessionExpired
		default:
			continue
		}
		logger.Debug("session event", "state", ev.State.String())
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		s.sessions <- store.SessionEvent{Type: t}
	}
}

func translate(ev zk.Event) store.WatchEvent {
	var t store.EventType
	switch ev.Type {
	case zk.EventNodeCreated:
		t = store.EventNodeCreated
	case zk.EventNodeDeleted:
		t = store.EventNodeDeleted
	case zk.EventNodeDataChanged:
		t = store.EventNodeDataChanged
	case zk.EventNodeChildrenChanged:
		t = store.EventNodeChildrenChanged
	}
	return store.WatchEvent{Path: ev.Path, Type: t}
}

func forward(zch <-chan zk.Event) <-chan store.WatchEvent {
	out := make(chan store.WatchEvent, 1)
	go func() {
		ev, ok := <-zch
		if !ok {
			close(out)
			return
		}
		out <- translate(ev)
		close(out)
	}()
	return out
}

func flagsOf(f store.CreateFlags) int32 {
	var flags int32
	if f.Ephemeral {
		flags |= zk.FlagEphemeral
	}
	if f.Sequence {
		flags |= zk.FlagSequence
	}
	return flags
}

func wrapErr(op, path string, err error) error {
	switch err {
	case zk.ErrNoNode:
		return fmt.Errorf("zkstore: %s %s: %w", op, path, store.ErrNoNode)
	case zk.ErrNodeExists:
		return fmt.Errorf("zkstore: %s %s: %w", op, path, store.ErrNodeExists)
	case zk.ErrBadVersion:
		return fmt.Errorf("zkstore: %s %s: %w", op, path, store.ErrBadVersion)
	case zk.ErrNotEmpty:
		return fmt.Errorf("zkstore: %s %s: %w", op, path, store.ErrNotEmpty)
	default:
		return fmt.Errorf("zkstore: %s %s: %v", op, path, err)
	}
}

func (s *Store) Create(_ context.Context, path string, data []byte, flags store.CreateFlags) (string, error) {
	final, err := s.conn.Create(path, data, flagsOf(flags), zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", wrapErr("create", path, err)
	}
	return final, nil
}

func (s *Store) Delete(_ context.Context, path string, version int64) error {
	if err := s.conn.Delete(path, int32(version)); err != nil {
		return wrapErr("delete", path, err)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, path string, watch bool) (bool, store.Stat, <-chan store.WatchEvent, error) {
	if watch {
		ok, st, zch, err := s.conn.ExistsW(path)
		if err != nil {
			return false, store.Stat{}, nil, wrapErr("exists", path, err)
		}
		return ok, statOf(st), forward(zch), nil
	}
	ok, st, err := s.conn.Exists(path)
	if err != nil {
		return false, store.Stat{}, nil, wrapErr("exists", path, err)
	}
	return ok, statOf(st), nil, nil
}

func (s *Store) Get(_ context.Context, path string, watch bool) ([]byte, store.Stat, <-chan store.WatchEvent, error) {
	if watch {
		data, st, zch, err := s.conn.GetW(path)
		if err != nil {
			return nil, store.Stat{}, nil, wrapErr("get", path, err)
		}
		return data, statOf(st), forward(zch), nil
	}
	data, st, err := s.conn.Get(path)
	if err != nil {
		return nil, store.Stat{}, nil, wrapErr("get", path, err)
	}
	return data, statOf(st), nil, nil
}

func (s *Store) Set(_ context.Context, path string, data []byte, version int64) (store.Stat, error) {
	st, err := s.conn.Set(path, data, int32(version))
	if err != nil {
		return store.Stat{}, wrapErr("set", path, err)
	}
	return statOf(st), nil
}

func (s *Store) GetChildren(_ context.Context, path string, watch bool) ([]string, <-chan store.WatchEvent, error) {
	if watch {
		names, _, zch, err := s.conn.ChildrenW(path)
		if err != nil {
			return nil, nil, wrapErr("getchildren", path, err)
		}
		return names, forward(zch), nil
	}
	names, _, err := s.conn.Children(path)
	if err != nil {
		return nil, nil, wrapErr("getchildren", path, err)
	}
	return names, nil, nil
}

func (s *Store) Sync(_ context.Context, path string) error {
	if _, err := s.conn.Sync(path); err != nil {
		return wrapErr("sync", path, err)
	}
	return nil
}

func (s *Store) SessionEvents() <-chan store.SessionEvent {
	return s.sessions
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.conn.Close()
	close(s.sessions)
	return nil
}

func statOf(st *zk.Stat) store.Stat {
	if st == nil {
		return store.Stat{}
	}
	return store.Stat{
		Version:     int64(st.Version),
		Ctime:       msToTime(st.Ctime),
		Mtime:       msToTime(st.Mtime),
		DataLength:  int(st.DataLength),
		NumChildren: int(st.NumChildren),
	}
}

func msToTime(ms int64) time.Time {
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond))
}

var _ store.Store = (*Store)(nil)

// Package factory assembles a connection to the coordination store into a
// single Client: the typed notifyable hierarchy, distributed locking,
// durable queues and JSON-RPC-over-queues, all sharing one store session,
// event bus and timer service.
package factory

import (
	"context"
	"time"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/lock"
	"github.com/clusterlib/clusterlib/notifyable"
	"github.com/clusterlib/clusterlib/queue"
	"github.com/clusterlib/clusterlib/rpc"
	"github.com/clusterlib/clusterlib/store"
	"github.com/clusterlib/clusterlib/store/memstore"
	"github.com/clusterlib/clusterlib/store/zkstore"
	"github.com/clusterlib/clusterlib/timer"
)

// Config selects the backing store and the root path a Factory mounts.
type Config struct {
	// ZKServers, if non-empty, connects to a ZooKeeper-compatible
	// ensemble at these addresses. If empty, Factory uses an in-process
	// memstore, suitable for tests and single-process embedding.
	ZKServers      []string
	SessionTimeout time.Duration
	// RootPath is the repository path the Root notifyable mounts at.
	// Defaults to "/root" if empty.
	RootPath string
}

// Factory owns the store session and builds Clients against it. Closing a
// Factory ends the event bus, stops the timer service and closes the
// underlying store session; the Clients it built are not tracked or closed
// individually and share that closed session.
type Factory struct {
	store store.Store
	bus   *eventbus.Bus
	timer *timer.Service
	reg   *notifyable.Registry
	root  *notifyable.Root
}

// New connects per cfg and mounts the Root notifyable. Callers must Close
// the returned Factory when done.
func New(ctx context.Context, cfg Config) (*Factory, error) {
	var st store.Store
	if len(cfg.ZKServers) > 0 {
		sessionTimeout := cfg.SessionTimeout
		if sessionTimeout <= 0 {
			sessionTimeout = 10 * time.Second
		}
		zk, err := zkstore.New(cfg.ZKServers, sessionTimeout)
		if err != nil {
			return nil, clerr.Wrap(clerr.KindRepositoryConnection, err, "failed to connect to ensemble")
		}
		st = zk
	} else {
		st = memstore.New()
	}

	rootPath := cfg.RootPath
	if rootPath == "" {
		rootPath = "/root"
	}

	bus := eventbus.New()
	ts := timer.New()
	reg := notifyable.NewRegistry(st, bus)
	root, err := reg.Root(ctx, rootPath)
	if err != nil {
		bus.EndOfService()
		ts.Close()
		st.Close()
		return nil, err
	}

	return &Factory{store: st, bus: bus, timer: ts, reg: reg, root: root}, nil
}

// Close ends the store session, the event bus and the timer service. Any
// Client built from this Factory must not be used afterward.
func (f *Factory) Close() error {
	f.bus.EndOfService()
	f.timer.Close()
	return f.store.Close()
}

// Root returns the singleton Root notifyable this Factory mounted.
func (f *Factory) Root() *notifyable.Root { return f.root }

// Registry returns the underlying notifyable registry, for callers that
// need direct access to resolve arbitrary keys via notifyable.Resolve.
func (f *Factory) Registry() *notifyable.Registry { return f.reg }

// IsConnected reports whether the underlying store session is currently
// live, by checking that the Root's backing path still answers.
func (f *Factory) IsConnected(ctx context.Context) bool {
	_, _, _, err := f.store.Exists(ctx, f.root.Key(), false)
	return err == nil
}

// Synchronize blocks until every in-flight store operation issued so far
// has been acknowledged by the ensemble, giving callers a read-your-writes
// boundary across connections.
func (f *Factory) Synchronize(ctx context.Context) error {
	return f.store.Sync(ctx, f.root.Key())
}

// Client bundles a lock manager and a notifyable-scoped set of helpers for
// one application's use of the ensemble. Multiple Clients may share one
// Factory; each gets its own lock.Manager (and therefore its own
// clientID and session-loss observer).
type Client struct {
	factory *Factory
	locks   *lock.Manager
}

// CreateClient builds a Client sharing this Factory's store session.
func (f *Factory) CreateClient() *Client {
	return &Client{factory: f, locks: lock.NewManager(f.store, f.timer)}
}

// Root returns the Factory's mounted Root, for navigating the typed
// hierarchy.
func (c *Client) Root() *notifyable.Root { return c.factory.root }

// Locks returns the lock manager backing this Client's Acquire/Release
// calls on notifyable lock directories.
func (c *Client) Locks() *lock.Manager { return c.locks }

// QueueFor opens a durable Queue bound to a notifyable's elements
// directory. The caller owns the returned Queue's Close.
func (c *Client) QueueFor(q *notifyable.Queue) *queue.Queue {
	return queue.New(c.factory.store, c.factory.bus, q.Key(), q.ElementsKey())
}

// CreateJSONRPCResponseClient builds an rpc.ResponseClient that routes
// replies landing on respQueue, by request id, to whichever in-flight Call
// is waiting for it — the sender role, able to share one response queue
// across many concurrent calls. Replies matching no current waiter land on
// completedQueue instead of being dropped.
func (c *Client) CreateJSONRPCResponseClient(respQueue, completedQueue *notifyable.Queue) *rpc.ResponseClient {
	resp := c.QueueFor(respQueue)
	completed := c.QueueFor(completedQueue)
	return rpc.NewResponseClient(resp, completed, respQueue.ElementsKey())
}

// CreateJSONRPCMethodClient builds an rpc.Server — the receiver role,
// installing a loop that reads recvQueue, dispatches by method name, and
// falls back to completedQueue when a reply can't be routed. The
// clusterlib-predefined StartProcess and StopProcess methods are
// registered automatically.
func (c *Client) CreateJSONRPCMethodClient(recvQueue, completedQueue *notifyable.Queue, persistence rpc.StatePersistence) *rpc.Server {
	recv := c.QueueFor(recvQueue)
	completed := c.QueueFor(completedQueue)
	server := rpc.NewServer(c.factory.store, recv, completed, persistence)
	runner := rpc.NewProcessRunner(c.factory.root)
	server.Register(rpc.MethodStartProcess, runner.StartProcessMethod())
	server.Register(rpc.MethodStopProcess, runner.StopProcessMethod())
	return server
}

package notifyable

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/clusterlib/clusterlib/cacheddata"
	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/common/logging"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

var logger = logging.GetLogger("notifyable")

// Group is a nestable container of Nodes and further Groups, and the
// participant in leader election: the member holding the
// lowest-sequence-numbered bid under its leaders directory is the leader.
type Group struct {
	Handle

	current *cacheddata.State
	desired *cacheddata.State

	leaderMu      sync.Mutex
	bidPath       string // "" until TryToBecomeLeader has been called
	isLeader      bool
	lastLeaderBid string // lowest bid name last observed, for change detection
}

func groupType() *Type {
	return &Type{
		Kind:     KindGroup,
		ChildDir: DirGroups,
		GenerateKey: func(parentKey, name string) string {
			return parentKey + "/" + DirGroups + "/" + name
		},
		GenerateRepositoryList: func(key string) []string {
			return []string{
				key,
				key + "/" + AttrCurrentState,
				key + "/" + AttrDesiredState,
				key + "/" + DirLocks,
				key + "/" + DirLeaders,
				key + "/" + DirGroups,
				key + "/" + DirNodes,
				key + "/" + DirDistributions,
				key + "/" + DirPropertyLists,
				key + "/" + DirQueues,
			}
		},
		CreateNotifyable: func(b Base) Notifyable {
			g := &Group{Handle: newHandle(b.Registry, KindGroup, b.Key, b.Name, b.Parent)}
			g.current = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrCurrentState, eventbus.EventCurrentStateChange, "current_state")
			g.desired = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrDesiredState, eventbus.EventDesiredStateChange, "desired_state")
			g.armLeaderWatch()
			return g
		},
		IsValidKey: func(components []string) bool { return len(components) >= 3 },
	}
}

func (g *Group) CachedCurrentState() *cacheddata.State { return g.current }
func (g *Group) CachedDesiredState() *cacheddata.State { return g.desired }

func (g *Group) GroupNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, g.registry, KindGroup, g.key)
}

func (g *Group) Group(ctx context.Context, name string, access Access) (*Group, bool, error) {
	n, ok, err := getChild(ctx, g.registry, KindGroup, g.key, name, access, g)
	if n == nil {
		return nil, ok, err
	}
	return n.(*Group), ok, err
}

func (g *Group) NodeNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, g.registry, KindNode, g.key)
}

func (g *Group) Node(ctx context.Context, name string, access Access) (*Node, bool, error) {
	n, ok, err := getChild(ctx, g.registry, KindNode, g.key, name, access, g)
	if n == nil {
		return nil, ok, err
	}
	return n.(*Node), ok, err
}

func (g *Group) DistributionNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, g.registry, KindDataDistribution, g.key)
}

func (g *Group) Distribution(ctx context.Context, name string, access Access) (*DataDistribution, bool, error) {
	n, ok, err := getChild(ctx, g.registry, KindDataDistribution, g.key, name, access, g)
	if n == nil {
		return nil, ok, err
	}
	return n.(*DataDistribution), ok, err
}

func (g *Group) PropertyListNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, g.registry, KindPropertyList, g.key)
}

func (g *Group) PropertyList(ctx context.Context, name string, access Access) (*PropertyList, bool, error) {
	n, ok, err := getChild(ctx, g.registry, KindPropertyList, g.key, name, access, g)
	if n == nil {
		return nil, ok, err
	}
	return n.(*PropertyList), ok, err
}

func (g *Group) QueueNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, g.registry, KindQueue, g.key)
}

func (g *Group) Queue(ctx context.Context, name string, access Access) (*Queue, bool, error) {
	n, ok, err := getChild(ctx, g.registry, KindQueue, g.key, name, access, g)
	if n == nil {
		return nil, ok, err
	}
	return n.(*Queue), ok, err
}

func (g *Group) Remove(ctx context.Context, recursive bool) error {
	t := g.registry.types[KindGroup]
	return removeNotifyable(ctx, g.registry, &g.Handle, t.GenerateRepositoryList(g.key), recursive,
		[]Kind{KindGroup, KindNode, KindDataDistribution, KindPropertyList, KindQueue})
}

// leaderDir is the repository directory holding sequence-ephemeral bids.
func (g *Group) leaderDir() string { return g.key + "/" + DirLeaders }

// armLeaderWatch installs an internal handler that keeps this Group's
// leadership view current for the lifetime of the process, independent of
// whether this handle ever bids itself. It mirrors cacheddata.Base's
// self-re-arming pattern: a watched read fires the handler, which
// re-evaluates and then re-arms before returning. This is what lets a
// purely-observing handle (one that only calls AmITheLeader/registers a
// leadership-change handler but never calls TryToBecomeLeader) learn that
// the leader's session expired, since the ephemeral bid's removal is only
// ever visible as a children-changed fire on leaderDir, never as a message
// from the departed leader.
func (g *Group) armLeaderWatch() {
	g.registry.Bus.RegisterInternal(g.leaderDir(), func(ev store.WatchEvent) {
		g.watchLeaderDir(context.Background())
	})
	g.watchLeaderDir(context.Background())
}

// watchLeaderDir arms (or re-arms) a watch on leaderDir and forwards its
// fire back through the bus so the RegisterInternal handler above runs.
func (g *Group) watchLeaderDir(ctx context.Context) {
	names, watchCh, err := g.registry.Store.GetChildren(ctx, g.leaderDir(), true)
	if err != nil {
		logger.Warn("failed to arm leader watch", "path", g.leaderDir(), "error", err)
		return
	}
	g.applyLowestBid(names)
	if watchCh == nil {
		return
	}
	go func() {
		ev, ok := <-watchCh
		if !ok {
			return
		}
		g.registry.Bus.Feed(ev)
	}()
}

// reevaluateLeadership re-lists leaderDir and updates isLeader, posting
// EventLeadershipChange if the lowest live bid has changed since the last
// observation.
func (g *Group) reevaluateLeadership(ctx context.Context) error {
	names, _, err := g.registry.Store.GetChildren(ctx, g.leaderDir(), false)
	if err != nil {
		return clerr.Wrap(clerr.KindRepositoryConnection, err, "list bids failed: "+g.key)
	}
	g.applyLowestBid(names)
	return nil
}

// applyLowestBid recomputes leadership from names (the current contents of
// leaderDir) and posts EventLeadershipChange exactly once if the lowest
// bid differs from the last one observed.
func (g *Group) applyLowestBid(names []string) {
	lowest := lowestSequenceBid(names)

	g.leaderMu.Lock()
	mine := ""
	if g.bidPath != "" {
		mine = g.bidPath[strings.LastIndex(g.bidPath, "/")+1:]
	}
	changed := lowest != g.lastLeaderBid
	g.lastLeaderBid = lowest
	g.isLeader = lowest != "" && lowest == mine
	g.leaderMu.Unlock()

	if changed {
		g.registry.Bus.Post(eventbus.Event{Key: g.key, Type: eventbus.EventLeadershipChange})
	}
}

// TryToBecomeLeader places a sequence-ephemeral bid in the leaders
// directory (if one isn't already outstanding for this handle) and reports
// whether this caller currently holds the lowest-sequence live bid. It
// does not block: callers that lose the race are notified of a later
// promotion through the leadership-change event armLeaderWatch maintains.
func (g *Group) TryToBecomeLeader(ctx context.Context) (bool, error) {
	if err := g.checkLive(); err != nil {
		return false, err
	}
	g.leaderMu.Lock()
	bidPath := g.bidPath
	g.leaderMu.Unlock()

	if bidPath == "" {
		path, err := g.registry.Store.Create(ctx, g.leaderDir()+"/bid_", nil, store.CreateFlags{Ephemeral: true, Sequence: true})
		if err != nil {
			return false, clerr.Wrap(clerr.KindRepositoryConnection, err, "leader bid failed: "+g.key)
		}
		g.leaderMu.Lock()
		g.bidPath = path
		g.leaderMu.Unlock()
	}

	if err := g.reevaluateLeadership(ctx); err != nil {
		return false, err
	}
	return g.AmITheLeader(), nil
}

// AmITheLeader reports the last-known leadership result without issuing a
// new bid or re-checking the store.
func (g *Group) AmITheLeader() bool {
	g.leaderMu.Lock()
	defer g.leaderMu.Unlock()
	return g.isLeader
}

// AbdicateLeader withdraws this handle's bid, if any. The resulting
// children-changed fire on leaderDir drives armLeaderWatch's handler to
// re-evaluate and post EventLeadershipChange, the same path a session
// expiry takes, so voluntary and involuntary departures are announced
// identically.
func (g *Group) AbdicateLeader(ctx context.Context) error {
	g.leaderMu.Lock()
	path := g.bidPath
	g.bidPath = ""
	g.isLeader = false
	g.leaderMu.Unlock()
	if path == "" {
		return nil
	}
	if err := g.registry.Store.Delete(ctx, path, -1); err != nil && !errors.Is(err, store.ErrNoNode) {
		return clerr.Wrap(clerr.KindRepositoryConnection, err, "abdicate failed: "+g.key)
	}
	return nil
}

func lowestSequenceBid(names []string) string {
	if len(names) == 0 {
		return ""
	}
	sort.Slice(names, func(i, j int) bool {
		return bidSequence(names[i]) < bidSequence(names[j])
	})
	return names[0]
}

func bidSequence(name string) int64 {
	idx := strings.LastIndex(name, "_")
	if idx < 0 {
		return -1
	}
	n, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return n
}

var (
	_ Notifyable       = (*Group)(nil)
	_ HasGroups        = (*Group)(nil)
	_ HasNodes         = (*Group)(nil)
	_ HasDistributions = (*Group)(nil)
	_ HasPropertyLists = (*Group)(nil)
	_ HasQueues        = (*Group)(nil)
)

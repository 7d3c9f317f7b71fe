package notifyable

import (
	"context"
	"errors"

	"github.com/clusterlib/clusterlib/cacheddata"
	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
)

// Node is a physical or virtual member of a Group: the unit that carries
// connection/health state and, optionally, a set of ProcessSlots.
type Node struct {
	Handle

	current *cacheddata.State
	desired *cacheddata.State

	clientState     *cacheddata.State
	masterState     *cacheddata.State
	processSlotInfo *cacheddata.ProcessSlotInfo
}

func nodeType() *Type {
	return &Type{
		Kind:     KindNode,
		ChildDir: DirNodes,
		GenerateKey: func(parentKey, name string) string {
			return parentKey + "/" + DirNodes + "/" + name
		},
		GenerateRepositoryList: func(key string) []string {
			return []string{
				key,
				key + "/" + AttrCurrentState,
				key + "/" + AttrDesiredState,
				key + "/" + AttrClientState,
				key + "/" + AttrMasterState,
				key + "/" + AttrProcessSlotInfo,
				key + "/" + DirLocks,
				key + "/" + DirPropertyLists,
				key + "/" + DirQueues,
				key + "/" + DirProcessSlots,
			}
		},
		CreateNotifyable: func(b Base) Notifyable {
			n := &Node{Handle: newHandle(b.Registry, KindNode, b.Key, b.Name, b.Parent)}
			n.current = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrCurrentState, eventbus.EventCurrentStateChange, "current_state")
			n.desired = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrDesiredState, eventbus.EventDesiredStateChange, "desired_state")
			n.clientState = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrClientState, eventbus.EventClientStateChange, "client_state")
			n.clientState.SetMaxHistorySize(1)
			n.masterState = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrMasterState, eventbus.EventMasterStateChange, "master_state")
			n.masterState.SetMaxHistorySize(1)
			n.processSlotInfo = cacheddata.NewProcessSlotInfo(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrProcessSlotInfo)
			return n
		},
		IsValidKey: func(components []string) bool { return len(components) >= 3 },
	}
}

func (n *Node) CachedCurrentState() *cacheddata.State { return n.current }
func (n *Node) CachedDesiredState() *cacheddata.State { return n.desired }

// ClientState is the node process's self-reported state history (depth 1:
// only the current value is retained).
func (n *Node) ClientState() *cacheddata.State { return n.clientState }

// MasterState is the value the elected group leader assigns this node
// (depth 1: only the current value is retained).
func (n *Node) MasterState() *cacheddata.State { return n.masterState }

// ProcessSlotInfo holds whether this node hosts ProcessSlots and, if so,
// how many it supports.
func (n *Node) ProcessSlotInfo() *cacheddata.ProcessSlotInfo { return n.processSlotInfo }

// IsConnected reports whether the node's ephemeral connection marker is
// currently present, which the owning process refreshes for the lifetime
// of its session.
func (n *Node) IsConnected(ctx context.Context) (bool, error) {
	ok, _, _, err := n.registry.Store.Exists(ctx, n.key+"/"+AttrConnectionEphem, false)
	if err != nil {
		return false, clerr.Wrap(clerr.KindRepositoryConnection, err, "connection check failed: "+n.key)
	}
	return ok, nil
}

// IsHealthy reports the last value written by this node's periodic health
// checker. A missing health record means no health report has ever been
// published.
func (n *Node) IsHealthy(ctx context.Context) (bool, error) {
	data, _, _, err := n.registry.Store.Get(ctx, n.key+"/"+AttrHealth, false)
	if err != nil {
		if errors.Is(err, store.ErrNoNode) {
			return false, nil
		}
		return false, clerr.Wrap(clerr.KindRepositoryConnection, err, "health read failed: "+n.key)
	}
	return len(data) > 0 && string(data) == "healthy", nil
}

func (n *Node) ProcessSlotNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, n.registry, KindProcessSlot, n.key)
}

func (n *Node) ProcessSlot(ctx context.Context, name string, access Access) (*ProcessSlot, bool, error) {
	ps, ok, err := getChild(ctx, n.registry, KindProcessSlot, n.key, name, access, n)
	if ps == nil {
		return nil, ok, err
	}
	return ps.(*ProcessSlot), ok, err
}

func (n *Node) PropertyListNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, n.registry, KindPropertyList, n.key)
}

func (n *Node) PropertyList(ctx context.Context, name string, access Access) (*PropertyList, bool, error) {
	pl, ok, err := getChild(ctx, n.registry, KindPropertyList, n.key, name, access, n)
	if pl == nil {
		return nil, ok, err
	}
	return pl.(*PropertyList), ok, err
}

func (n *Node) QueueNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, n.registry, KindQueue, n.key)
}

func (n *Node) Queue(ctx context.Context, name string, access Access) (*Queue, bool, error) {
	q, ok, err := getChild(ctx, n.registry, KindQueue, n.key, name, access, n)
	if q == nil {
		return nil, ok, err
	}
	return q.(*Queue), ok, err
}

func (n *Node) Remove(ctx context.Context, recursive bool) error {
	t := n.registry.types[KindNode]
	return removeNotifyable(ctx, n.registry, &n.Handle, t.GenerateRepositoryList(n.key), recursive,
		[]Kind{KindProcessSlot, KindPropertyList, KindQueue})
}

var (
	_ Notifyable       = (*Node)(nil)
	_ HasProcessSlots  = (*Node)(nil)
	_ HasPropertyLists = (*Node)(nil)
	_ HasQueues        = (*Node)(nil)
)

package notifyable

import (
	"context"

	"github.com/clusterlib/clusterlib/cacheddata"
	"github.com/clusterlib/clusterlib/eventbus"
)

// ProcessSlot is one addressable execution slot hosted by a Node, carrying
// the record of the process currently assigned to it.
type ProcessSlot struct {
	Handle

	current     *cacheddata.State
	desired     *cacheddata.State
	processInfo *cacheddata.ProcessInfo
}

func processSlotType() *Type {
	return &Type{
		Kind:     KindProcessSlot,
		ChildDir: DirProcessSlots,
		GenerateKey: func(parentKey, name string) string {
			return parentKey + "/" + DirProcessSlots + "/" + name
		},
		GenerateRepositoryList: func(key string) []string {
			return []string{
				key,
				key + "/" + AttrCurrentState,
				key + "/" + AttrDesiredState,
				key + "/" + AttrProcessInfo,
				key + "/" + DirLocks,
				key + "/" + DirPropertyLists,
				key + "/" + DirQueues,
			}
		},
		CreateNotifyable: func(b Base) Notifyable {
			p := &ProcessSlot{Handle: newHandle(b.Registry, KindProcessSlot, b.Key, b.Name, b.Parent)}
			p.current = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrCurrentState, eventbus.EventCurrentStateChange, "current_state")
			p.desired = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrDesiredState, eventbus.EventDesiredStateChange, "desired_state")
			p.processInfo = cacheddata.NewProcessInfo(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrProcessInfo)
			return p
		},
		IsValidKey: func(components []string) bool { return len(components) >= 3 },
	}
}

func (p *ProcessSlot) CachedCurrentState() *cacheddata.State { return p.current }
func (p *ProcessSlot) CachedDesiredState() *cacheddata.State { return p.desired }

// ProcessInfo is the record of the hostnames/ports of the process bound to
// this slot, published by whatever launches it (see the rpc package's
// StartProcess/StopProcess methods).
func (p *ProcessSlot) ProcessInfo() *cacheddata.ProcessInfo { return p.processInfo }

func (p *ProcessSlot) PropertyListNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, p.registry, KindPropertyList, p.key)
}

func (p *ProcessSlot) PropertyList(ctx context.Context, name string, access Access) (*PropertyList, bool, error) {
	n, ok, err := getChild(ctx, p.registry, KindPropertyList, p.key, name, access, p)
	if n == nil {
		return nil, ok, err
	}
	return n.(*PropertyList), ok, err
}

func (p *ProcessSlot) QueueNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, p.registry, KindQueue, p.key)
}

func (p *ProcessSlot) Queue(ctx context.Context, name string, access Access) (*Queue, bool, error) {
	n, ok, err := getChild(ctx, p.registry, KindQueue, p.key, name, access, p)
	if n == nil {
		return nil, ok, err
	}
	return n.(*Queue), ok, err
}

func (p *ProcessSlot) Remove(ctx context.Context, recursive bool) error {
	t := p.registry.types[KindProcessSlot]
	return removeNotifyable(ctx, p.registry, &p.Handle, t.GenerateRepositoryList(p.key), recursive,
		[]Kind{KindPropertyList, KindQueue})
}

var (
	_ Notifyable       = (*ProcessSlot)(nil)
	_ HasPropertyLists = (*ProcessSlot)(nil)
	_ HasQueues        = (*ProcessSlot)(nil)
)

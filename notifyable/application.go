package notifyable

import (
	"context"

	"github.com/clusterlib/clusterlib/cacheddata"
	"github.com/clusterlib/clusterlib/eventbus"
)

// Application is the top-level container under Root: a named collection of
// Groups, DataDistributions, PropertyLists, and Queues.
type Application struct {
	Handle

	current *cacheddata.State
	desired *cacheddata.State
}

func applicationType() *Type {
	return &Type{
		Kind:     KindApplication,
		ChildDir: DirApplications,
		GenerateKey: func(parentKey, name string) string {
			return parentKey + "/" + DirApplications + "/" + name
		},
		GenerateRepositoryList: func(key string) []string {
			return []string{
				key,
				key + "/" + AttrCurrentState,
				key + "/" + AttrDesiredState,
				key + "/" + DirLocks,
				key + "/" + DirGroups,
				key + "/" + DirDistributions,
				key + "/" + DirPropertyLists,
				key + "/" + DirQueues,
			}
		},
		CreateNotifyable: func(b Base) Notifyable {
			a := &Application{Handle: newHandle(b.Registry, KindApplication, b.Key, b.Name, b.Parent)}
			a.current = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrCurrentState, eventbus.EventCurrentStateChange, "current_state")
			a.desired = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrDesiredState, eventbus.EventDesiredStateChange, "desired_state")
			return a
		},
		IsValidKey: func(components []string) bool { return len(components) >= 3 },
	}
}

func (a *Application) CachedCurrentState() *cacheddata.State { return a.current }
func (a *Application) CachedDesiredState() *cacheddata.State { return a.desired }

func (a *Application) GroupNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, a.registry, KindGroup, a.key)
}

func (a *Application) Group(ctx context.Context, name string, access Access) (*Group, bool, error) {
	n, ok, err := getChild(ctx, a.registry, KindGroup, a.key, name, access, a)
	if n == nil {
		return nil, ok, err
	}
	return n.(*Group), ok, err
}

func (a *Application) DistributionNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, a.registry, KindDataDistribution, a.key)
}

func (a *Application) Distribution(ctx context.Context, name string, access Access) (*DataDistribution, bool, error) {
	n, ok, err := getChild(ctx, a.registry, KindDataDistribution, a.key, name, access, a)
	if n == nil {
		return nil, ok, err
	}
	return n.(*DataDistribution), ok, err
}

func (a *Application) PropertyListNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, a.registry, KindPropertyList, a.key)
}

func (a *Application) PropertyList(ctx context.Context, name string, access Access) (*PropertyList, bool, error) {
	n, ok, err := getChild(ctx, a.registry, KindPropertyList, a.key, name, access, a)
	if n == nil {
		return nil, ok, err
	}
	return n.(*PropertyList), ok, err
}

func (a *Application) QueueNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, a.registry, KindQueue, a.key)
}

func (a *Application) Queue(ctx context.Context, name string, access Access) (*Queue, bool, error) {
	n, ok, err := getChild(ctx, a.registry, KindQueue, a.key, name, access, a)
	if n == nil {
		return nil, ok, err
	}
	return n.(*Queue), ok, err
}

func (a *Application) Remove(ctx context.Context, recursive bool) error {
	t := a.registry.types[KindApplication]
	return removeNotifyable(ctx, a.registry, &a.Handle, t.GenerateRepositoryList(a.key), recursive,
		[]Kind{KindGroup, KindDataDistribution, KindPropertyList, KindQueue})
}

var (
	_ Notifyable       = (*Application)(nil)
	_ HasGroups        = (*Application)(nil)
	_ HasDistributions = (*Application)(nil)
	_ HasPropertyLists = (*Application)(nil)
	_ HasQueues        = (*Application)(nil)
)

package notifyable

import (
	"context"

	"github.com/clusterlib/clusterlib/cacheddata"
	"github.com/clusterlib/clusterlib/eventbus"
)

// Root is the single entry point into the typed hierarchy. A Factory owns
// exactly one Root per ensemble connection, at a configured repository
// prefix.
type Root struct {
	Handle

	current *cacheddata.State
	desired *cacheddata.State
}

func rootType() *Type {
	return &Type{
		Kind:     KindRoot,
		ChildDir: "",
		GenerateKey: func(parentKey, name string) string {
			return parentKey
		},
		GenerateRepositoryList: func(key string) []string {
			return []string{
				key,
				key + "/" + AttrCurrentState,
				key + "/" + AttrDesiredState,
				key + "/" + DirLocks,
				key + "/" + DirApplications,
			}
		},
		CreateNotifyable: func(b Base) Notifyable {
			r := &Root{Handle: newHandle(b.Registry, KindRoot, b.Key, b.Name, nil)}
			r.current = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrCurrentState, eventbus.EventCurrentStateChange, "current_state")
			r.desired = cacheddata.NewState(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrDesiredState, eventbus.EventDesiredStateChange, "desired_state")
			return r
		},
		IsValidKey: func(components []string) bool { return len(components) >= 1 },
	}
}

// Root loads or creates the singleton Root at path, interning it under
// KindRoot.
func (r *Registry) Root(ctx context.Context, path string) (*Root, error) {
	t := r.types[KindRoot]
	if n, ok := t.intern.Get(path); ok {
		return n.(*Root), nil
	}
	list := t.GenerateRepositoryList(path)
	live, err := verifyLive(ctx, r.Store, list)
	if err != nil {
		return nil, err
	}
	if !live {
		if err := createLive(ctx, r.Store, list); err != nil {
			return nil, err
		}
	}
	return r.intern(KindRoot, path, "root", nil).(*Root), nil
}

func (r *Root) CachedCurrentState() *cacheddata.State { return r.current }
func (r *Root) CachedDesiredState() *cacheddata.State { return r.desired }

func (r *Root) ApplicationNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, r.registry, KindApplication, r.key)
}

func (r *Root) Application(ctx context.Context, name string, access Access) (*Application, bool, error) {
	n, ok, err := getChild(ctx, r.registry, KindApplication, r.key, name, access, r)
	if n == nil {
		return nil, ok, err
	}
	return n.(*Application), ok, err
}

func (r *Root) Remove(ctx context.Context, recursive bool) error {
	t := r.registry.types[KindRoot]
	return removeNotifyable(ctx, r.registry, &r.Handle, t.GenerateRepositoryList(r.key), recursive, []Kind{KindApplication})
}

var (
	_ Notifyable      = (*Root)(nil)
	_ HasApplications = (*Root)(nil)
)

package notifyable

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/store"
)

// Handle is embedded by every concrete notifyable kind. It implements the
// Notifyable interface's identity and lifecycle-state methods; concrete
// kinds add their own cached attributes and typed child accessors.
type Handle struct {
	registry *Registry
	key      string
	name     string
	kind     Kind
	parent   Notifyable

	mu    sync.Mutex
	state State
}

func newHandle(r *Registry, kind Kind, key, name string, parent Notifyable) Handle {
	return Handle{registry: r, kind: kind, key: key, name: name, parent: parent, state: StateReady}
}

func (h *Handle) Name() string      { return h.name }
func (h *Handle) Key() string       { return h.key }
func (h *Handle) Kind() Kind        { return h.kind }
func (h *Handle) Parent() Notifyable { return h.parent }

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) markRemoved() {
	h.mu.Lock()
	h.state = StateRemoved
	h.mu.Unlock()
}

// checkLive returns errRemoved if the handle has been removed. Only
// removeNotifyable and Group.TryToBecomeLeader call it; other accessors do
// not check the handle's state.
func (h *Handle) checkLive() error {
	if h.State() == StateRemoved {
		return errRemoved(h.key)
	}
	return nil
}

// verifyLive reports whether every path in list exists. A count strictly
// between zero and len(list) means a previous create or remove was
// interrupted partway through; callers surface that as inconsistent state
// rather than silently treating it as either live or absent.
func verifyLive(ctx context.Context, st store.Store, list []string) (bool, error) {
	existing := 0
	for _, p := range list {
		ok, _, _, err := st.Exists(ctx, p, false)
		if err != nil {
			return false, clerr.Wrap(clerr.KindRepositoryConnection, err, "exists check failed: "+p)
		}
		if ok {
			existing++
		}
	}
	switch existing {
	case 0:
		return false, nil
	case len(list):
		return true, nil
	default:
		return false, clerr.Newf(clerr.KindInconsistentState, "partial repository list for %v (%d/%d present)", list, existing, len(list))
	}
}

// createLive idempotently creates every path in list, in order. A path
// that already exists is treated as success, matching the no-op-if-already-
// live edge case.
func createLive(ctx context.Context, st store.Store, list []string) error {
	for _, p := range list {
		if _, err := st.Create(ctx, p, nil, store.CreateFlags{}); err != nil && !errors.Is(err, store.ErrNodeExists) {
			return clerr.Wrap(clerr.KindRepositoryConnection, err, "create failed: "+p)
		}
	}
	return nil
}

// removeLive deletes every path in list leafward (reverse of creation
// order), tolerating paths already gone.
func removeLive(ctx context.Context, st store.Store, list []string) error {
	for i := len(list) - 1; i >= 0; i-- {
		if err := st.Delete(ctx, list[i], -1); err != nil && !errors.Is(err, store.ErrNoNode) {
			return clerr.Wrap(clerr.KindRepositoryConnection, err, "delete failed: "+list[i])
		}
	}
	return nil
}

// getChild resolves name under parentKey as a child of kind, honoring
// access. It validates the name, consults the intern table, and falls
// through to the store for LoadFromRepository/CreateIfNotFound.
func getChild(ctx context.Context, r *Registry, kind Kind, parentKey, name string, access Access, parent Notifyable) (Notifyable, bool, error) {
	if err := validateName(name); err != nil {
		return nil, false, err
	}
	t := r.types[kind]
	key := t.GenerateKey(parentKey, name)

	if n, ok := t.intern.Get(key); ok {
		return n, true, nil
	}
	if access == CachedOnly {
		return nil, false, nil
	}

	live, err := verifyLive(ctx, r.Store, t.GenerateRepositoryList(key))
	if err != nil {
		return nil, false, err
	}
	if !live {
		if access == LoadFromRepository {
			return nil, false, nil
		}
		if err := createLive(ctx, r.Store, t.GenerateRepositoryList(key)); err != nil {
			return nil, false, err
		}
	}
	return r.intern(kind, key, name, parent), true, nil
}

// listChildren lists the names of every live child of kind under
// parentKey, reading parentKey's childDir directory.
func listChildren(ctx context.Context, r *Registry, kind Kind, parentKey string) ([]string, error) {
	t := r.types[kind]
	dirPath := parentKey + "/" + t.ChildDir
	names, _, err := r.Store.GetChildren(ctx, dirPath, false)
	if err != nil {
		if errors.Is(err, store.ErrNoNode) {
			return nil, nil
		}
		return nil, clerr.Wrap(clerr.KindRepositoryConnection, err, "list children failed: "+dirPath)
	}
	return names, nil
}

// removeNotifyable tears down a notifyable's repository list and transitions
// it to REMOVED. If recursive is false and the notifyable has live children
// in any of its child directories, it fails without mutation.
func removeNotifyable(ctx context.Context, r *Registry, h *Handle, repositoryList []string, recursive bool, childDirs []Kind) error {
	if err := h.checkLive(); err != nil {
		return err
	}
	if !recursive {
		for _, k := range childDirs {
			names, err := listChildren(ctx, r, k, h.key)
			if err != nil {
				return err
			}
			if len(names) > 0 {
				return clerr.Newf(clerr.KindInvalidMethod, "%s has live %s children, pass recursive=true", h.key, r.types[k].ChildDir)
			}
		}
	} else {
		var merr *multierror.Error
		for _, k := range childDirs {
			names, err := listChildren(ctx, r, k, h.key)
			if err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			for _, name := range names {
				child, ok, err := getChild(ctx, r, k, h.key, name, LoadFromRepository, h)
				if err != nil {
					merr = multierror.Append(merr, err)
					continue
				}
				if !ok {
					continue
				}
				if err := child.(interface {
					Remove(ctx context.Context, recursive bool) error
				}).Remove(ctx, true); err != nil {
					merr = multierror.Append(merr, err)
				}
			}
		}
		if merr.ErrorOrNil() != nil {
			return clerr.Wrap(clerr.KindRepositoryConnection, merr, "recursive remove of "+h.key+" had failures")
		}
	}
	if err := removeLive(ctx, r.Store, repositoryList); err != nil {
		return err
	}
	h.markRemoved()
	r.forget(h.kind, h.key)
	return nil
}

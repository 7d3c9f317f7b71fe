package notifyable

import (
	"context"
	"strings"

	"github.com/clusterlib/clusterlib/common/clerr"
)

// Resolve walks from root to the notifyable identified by key, a full
// repository path under root.Key(). It never creates anything; a segment
// pair naming a child that is not live reports clerr.KindInvalidArguments.
// Every kind resolves through the standard child-dir walk here;
// Type.GetObjectFromComponents is not consulted.
func Resolve(ctx context.Context, root *Root, key string) (Notifyable, error) {
	if key == root.Key() {
		return root, nil
	}
	rest := strings.TrimPrefix(key, root.Key()+"/")
	if rest == key || rest == "" {
		return nil, clerr.Newf(clerr.KindInvalidArguments, "key %q is not under root %q", key, root.Key())
	}
	parts := strings.Split(rest, "/")
	if len(parts)%2 != 0 {
		return nil, clerr.Newf(clerr.KindInvalidArguments, "malformed key %q", key)
	}

	var cur Notifyable = root
	for i := 0; i < len(parts); i += 2 {
		dir, name := parts[i], parts[i+1]
		next, err := descend(ctx, cur, dir, name)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func descend(ctx context.Context, cur Notifyable, dir, name string) (Notifyable, error) {
	switch dir {
	case DirApplications:
		h, ok := cur.(HasApplications)
		if !ok {
			return nil, notAContainer(cur, dir)
		}
		n, found, err := h.Application(ctx, name, LoadFromRepository)
		if err != nil || !found {
			return nil, notLive(err, cur, dir, name)
		}
		return n, nil
	case DirGroups:
		h, ok := cur.(HasGroups)
		if !ok {
			return nil, notAContainer(cur, dir)
		}
		n, found, err := h.Group(ctx, name, LoadFromRepository)
		if err != nil || !found {
			return nil, notLive(err, cur, dir, name)
		}
		return n, nil
	case DirNodes:
		h, ok := cur.(HasNodes)
		if !ok {
			return nil, notAContainer(cur, dir)
		}
		n, found, err := h.Node(ctx, name, LoadFromRepository)
		if err != nil || !found {
			return nil, notLive(err, cur, dir, name)
		}
		return n, nil
	case DirProcessSlots:
		h, ok := cur.(HasProcessSlots)
		if !ok {
			return nil, notAContainer(cur, dir)
		}
		n, found, err := h.ProcessSlot(ctx, name, LoadFromRepository)
		if err != nil || !found {
			return nil, notLive(err, cur, dir, name)
		}
		return n, nil
	case DirDistributions:
		h, ok := cur.(HasDistributions)
		if !ok {
			return nil, notAContainer(cur, dir)
		}
		n, found, err := h.Distribution(ctx, name, LoadFromRepository)
		if err != nil || !found {
			return nil, notLive(err, cur, dir, name)
		}
		return n, nil
	case DirPropertyLists:
		h, ok := cur.(HasPropertyLists)
		if !ok {
			return nil, notAContainer(cur, dir)
		}
		n, found, err := h.PropertyList(ctx, name, LoadFromRepository)
		if err != nil || !found {
			return nil, notLive(err, cur, dir, name)
		}
		return n, nil
	case DirQueues:
		h, ok := cur.(HasQueues)
		if !ok {
			return nil, notAContainer(cur, dir)
		}
		n, found, err := h.Queue(ctx, name, LoadFromRepository)
		if err != nil || !found {
			return nil, notLive(err, cur, dir, name)
		}
		return n, nil
	default:
		return nil, clerr.Newf(clerr.KindInvalidArguments, "unrecognised path segment %q under %s", dir, cur.Key())
	}
}

func notAContainer(cur Notifyable, dir string) error {
	return clerr.Newf(clerr.KindInvalidArguments, "%s (%s) has no %s children", cur.Key(), cur.Kind(), dir)
}

func notLive(err error, cur Notifyable, dir, name string) error {
	if err != nil {
		return err
	}
	return clerr.Newf(clerr.KindInvalidArguments, "%s/%s/%s is not live", cur.Key(), dir, name)
}

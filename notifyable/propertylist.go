package notifyable

import (
	"context"

	"github.com/clusterlib/clusterlib/cacheddata"
)

// PropertyList is a named bag of key/value pairs. It can hang off any
// container kind (Application, Group, Node, ProcessSlot); Get's
// searchParent option walks up the owning notifyable's ancestor chain
// looking for another property list of the same name.
type PropertyList struct {
	Handle

	keyValues *cacheddata.KeyValues
}

func propertyListType() *Type {
	return &Type{
		Kind:     KindPropertyList,
		ChildDir: DirPropertyLists,
		GenerateKey: func(parentKey, name string) string {
			return parentKey + "/" + DirPropertyLists + "/" + name
		},
		GenerateRepositoryList: func(key string) []string {
			return []string{
				key,
				key + "/" + AttrKeyValues,
				key + "/" + DirLocks,
			}
		},
		CreateNotifyable: func(b Base) Notifyable {
			pl := &PropertyList{Handle: newHandle(b.Registry, KindPropertyList, b.Key, b.Name, b.Parent)}
			pl.keyValues = cacheddata.NewKeyValues(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrKeyValues, b.Name)
			pl.keyValues.ParentLookup = func() *cacheddata.KeyValues {
				return findParentPropertyList(pl.Parent(), b.Name)
			}
			return pl
		},
		IsValidKey: func(components []string) bool { return len(components) >= 3 },
	}
}

// KeyValues exposes the staged/cached key-value content of this list.
func (pl *PropertyList) KeyValues() *cacheddata.KeyValues { return pl.keyValues }

func (pl *PropertyList) Remove(ctx context.Context, recursive bool) error {
	t := pl.registry.types[KindPropertyList]
	return removeNotifyable(ctx, pl.registry, &pl.Handle, t.GenerateRepositoryList(pl.key), recursive, nil)
}

// findParentPropertyList walks up from owner looking for a property list
// named name on the nearest ancestor that carries one. It resolves
// against the cache and repository (never creating), using a background
// context since ParentLookup's signature offers no way to propagate one;
// any store error along the walk is treated as "no parent list found"
// rather than surfaced, since ParentLookup has no error result.
func findParentPropertyList(owner Notifyable, name string) *cacheddata.KeyValues {
	if owner == nil {
		return nil
	}
	ctx := context.Background()
	for cur := owner.Parent(); cur != nil; cur = cur.Parent() {
		if has, ok := cur.(HasPropertyLists); ok {
			pl, found, err := has.PropertyList(ctx, name, LoadFromRepository)
			if err == nil && found {
				return pl.KeyValues()
			}
		}
	}
	return nil
}

var _ Notifyable = (*PropertyList)(nil)

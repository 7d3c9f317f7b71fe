package notifyable

import (
	"context"

	"github.com/clusterlib/clusterlib/cacheddata"
)

// DataDistribution owns a Shards attribute mapping a hash range to the
// notifyable keys responsible for each sub-range.
type DataDistribution struct {
	Handle

	shards *cacheddata.Shards
}

func dataDistributionType() *Type {
	return &Type{
		Kind:     KindDataDistribution,
		ChildDir: DirDistributions,
		GenerateKey: func(parentKey, name string) string {
			return parentKey + "/" + DirDistributions + "/" + name
		},
		GenerateRepositoryList: func(key string) []string {
			return []string{
				key,
				key + "/" + AttrShards,
				key + "/" + DirLocks,
				key + "/" + DirPropertyLists,
			}
		},
		CreateNotifyable: func(b Base) Notifyable {
			d := &DataDistribution{Handle: newHandle(b.Registry, KindDataDistribution, b.Key, b.Name, b.Parent)}
			d.shards = cacheddata.NewShards(b.Registry.Store, b.Registry.Bus, b.Key, b.Key+"/"+AttrShards, "uint64")
			return d
		},
		IsValidKey: func(components []string) bool { return len(components) >= 3 },
	}
}

// Shards exposes the staged/cached interval-tree content of this
// distribution.
func (d *DataDistribution) Shards() *cacheddata.Shards { return d.shards }

func (d *DataDistribution) PropertyListNames(ctx context.Context) ([]string, error) {
	return listChildren(ctx, d.registry, KindPropertyList, d.key)
}

func (d *DataDistribution) PropertyList(ctx context.Context, name string, access Access) (*PropertyList, bool, error) {
	n, ok, err := getChild(ctx, d.registry, KindPropertyList, d.key, name, access, d)
	if n == nil {
		return nil, ok, err
	}
	return n.(*PropertyList), ok, err
}

func (d *DataDistribution) Remove(ctx context.Context, recursive bool) error {
	t := d.registry.types[KindDataDistribution]
	return removeNotifyable(ctx, d.registry, &d.Handle, t.GenerateRepositoryList(d.key), recursive, []Kind{KindPropertyList})
}

var (
	_ Notifyable       = (*DataDistribution)(nil)
	_ HasPropertyLists = (*DataDistribution)(nil)
)

package cacheddata

import (
	"encoding/json"
	"sort"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/hashrange"
	"github.com/clusterlib/clusterlib/intervaltree"
	"github.com/clusterlib/clusterlib/store"
)

// ShardValue is the payload held at each interval-tree leaf: the target
// notifyable's key and its priority within overlapping shards.
type ShardValue struct {
	NotifyableKey string
	Priority      int32
}

func shardValueEqual(a, b ShardValue) bool {
	return a.NotifyableKey == b.NotifyableKey && a.Priority == b.Priority
}

// Shards is the cached interval-tree attribute backing a DataDistribution.
type Shards struct {
	Base

	tree      *intervaltree.Tree[ShardValue]
	typeName  string // HashRange concrete type, for JSON round-trip
	rangeZero hashrange.HashRange
}

// NewShards constructs a Shards bound to path, using rangeType as the
// concrete HashRange kind for this distribution (default: "uint64").
func NewShards(st store.Store, bus *eventbus.Bus, notifyableKey, path, rangeType string) *Shards {
	s := &Shards{
		tree:     intervaltree.New(shardValueEqual),
		typeName: rangeType,
	}
	s.rangeZero = hashrange.Empty(rangeType)
	s.Base = Base{
		Store:         st,
		Bus:           bus,
		Path:          path,
		NotifyableKey: notifyableKey,
		EventType:     eventbus.EventShardsChange,
		AttrName:      "shards",
	}
	s.Base.Init(s)
	return s
}

type shardTuple struct {
	Start    json.RawMessage `json:"start"`
	End      json.RawMessage `json:"end"`
	Key      string          `json:"key"`
	Priority int32           `json:"priority"`
}

// MarshalState and UnmarshalState assume the caller already holds the
// attribute lock.
func (s *Shards) MarshalState() ([]byte, error) {
	all := s.tree.All()
	out := make([]shardTuple, 0, len(all))
	for _, e := range all {
		startJSON, err := e.Lo.MarshalJSON()
		if err != nil {
			return nil, err
		}
		endJSON, err := e.Hi.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, shardTuple{Start: startJSON, End: endJSON, Key: e.Value.NotifyableKey, Priority: e.Value.Priority})
	}
	return json.Marshal(out)
}

func (s *Shards) UnmarshalState(b []byte) error {
	s.tree.Clear()
	if len(b) == 0 {
		return nil
	}
	var in []shardTuple
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	for _, t := range in {
		lo := hashrange.Empty(s.typeName)
		if err := lo.UnmarshalJSON(t.Start); err != nil {
			return err
		}
		hi := hashrange.Empty(s.typeName)
		if err := hi.UnmarshalJSON(t.End); err != nil {
			return err
		}
		s.tree.Insert(lo, hi, ShardValue{NotifyableKey: t.Key, Priority: t.Priority})
	}
	return nil
}

// Insert stages a new shard mapping [lo,hi] -> notifyableKey at priority.
func (s *Shards) Insert(lo, hi hashrange.HashRange, notifyableKey string, priority int32) {
	s.Lock()
	defer s.Unlock()
	s.tree.Insert(lo, hi, ShardValue{NotifyableKey: notifyableKey, Priority: priority})
}

// Remove deletes the shard [lo,hi] -> notifyableKey/priority, if present.
func (s *Shards) Remove(lo, hi hashrange.HashRange, notifyableKey string, priority int32) bool {
	s.Lock()
	defer s.Unlock()
	return s.tree.Remove(lo, hi, ShardValue{NotifyableKey: notifyableKey, Priority: priority})
}

// Clear removes every staged shard.
func (s *Shards) Clear() {
	s.Lock()
	defer s.Unlock()
	s.tree.Clear()
}

// Count returns the number of shards currently staged.
func (s *Shards) Count() int {
	s.Lock()
	defer s.Unlock()
	return s.tree.Size()
}

// GetNotifyables returns the notifyable keys covering point, ordered by
// priority descending and, within equal priority, by insertion order.
func (s *Shards) GetNotifyables(point hashrange.HashRange) []string {
	s.Lock()
	hits := s.tree.Stab(point)
	s.Unlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Value.Priority != hits[j].Value.Priority {
			return hits[i].Value.Priority > hits[j].Value.Priority
		}
		return hits[i].Seq < hits[j].Seq
	})
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Value.NotifyableKey
	}
	return out
}

// IsCovered reports whether the union of staged shards spans the entire
// hash range, from Begin() to End() inclusive (End() is MAX-inclusive per
// hashrange.HashRange's documented semantics).
func (s *Shards) IsCovered() bool {
	s.Lock()
	all := s.tree.All()
	s.Unlock()
	if len(all) == 0 {
		return false
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Lo.Compare(all[j].Lo) < 0 })

	cursor := s.rangeZero.Begin()
	for _, e := range all {
		if e.Lo.Compare(cursor) > 0 {
			return false
		}
		if e.Hi.Compare(cursor) >= 0 {
			if e.Hi.IsEnd() {
				return true
			}
			cursor = e.Hi.Next()
		}
	}
	return cursor.IsEnd()
}

// SplitHashRange divides the full hash range into n contiguous,
// approximately equal spans.
func (s *Shards) SplitHashRange(n int) ([][2]hashrange.HashRange, error) {
	if n <= 0 {
		return nil, clerr.New(clerr.KindInvalidArguments, "numShards must be positive")
	}
	if _, ok := s.rangeZero.(*hashrange.Uint64HashRange); !ok {
		return nil, clerr.New(clerr.KindInvalidMethod, "SplitHashRange only supports uint64 hash ranges")
	}
	const maxU64 = ^uint64(0)
	step := maxU64 / uint64(n)
	out := make([][2]hashrange.HashRange, 0, n)
	var cur uint64
	for i := 0; i < n; i++ {
		lo := hashrange.NewUint64HashRange(cur)
		var hi *hashrange.Uint64HashRange
		if i == n-1 {
			hi = hashrange.NewUint64HashRange(maxU64)
		} else {
			hi = hashrange.NewUint64HashRange(cur + step - 1)
		}
		out = append(out, [2]hashrange.HashRange{lo, hi})
		cur += step
	}
	return out, nil
}

var _ Codec = (*Shards)(nil)

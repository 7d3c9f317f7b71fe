package cacheddata

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/hashrange"
	"github.com/clusterlib/clusterlib/store"
	"github.com/clusterlib/clusterlib/store/memstore"
)

func TestKeyValuesPublishConflict(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	_, err := st.Create(ctx, "/pl", []byte("{}"), store.CreateFlags{})
	require.NoError(t, err)

	bus := eventbus.New()
	defer bus.Close()

	a := NewKeyValues(st, bus, "/app/pl", "/pl", "pl")
	b := NewKeyValues(st, bus, "/app/pl", "/pl", "pl")

	require.NoError(t, a.EnsureLoaded(ctx))
	require.NoError(t, b.EnsureLoaded(ctx))

	require.NoError(t, a.Set("k", json.RawMessage(`"a"`)))
	require.NoError(t, b.Set("k", json.RawMessage(`"b"`)))

	require.NoError(t, b.Publish(ctx, false))
	require.Equal(t, int64(1), b.Version())

	err = a.Publish(ctx, false)
	require.Error(t, err)
	require.True(t, clerr.Is(err, clerr.KindPublishConflict))

	require.NoError(t, a.Reset(ctx))
	require.NoError(t, a.Publish(ctx, false))
	require.Equal(t, int64(2), a.Version())
}

func TestStateHistoryTrimmed(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	_, err := st.Create(ctx, "/current", nil, store.CreateFlags{})
	require.NoError(t, err)

	bus := eventbus.New()
	defer bus.Close()

	s := NewState(st, bus, "/app/node", "/current", eventbus.EventCurrentStateChange, "current_state")
	s.SetMaxHistorySize(2)
	require.NoError(t, s.EnsureLoaded(ctx))

	for i := 0; i < 5; i++ {
		s.Stage("i", json.RawMessage(`"`+string(rune('a'+i))+`"`))
		require.NoError(t, s.PublishState(ctx, false))
	}

	require.Equal(t, 2, s.HistorySize())
	v, ok := s.Get("i")
	require.True(t, ok)
	require.JSONEq(t, `"e"`, string(v))
}

func TestShardsQueryOrderingAndCoverage(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	_, err := st.Create(ctx, "/shards", nil, store.CreateFlags{})
	require.NoError(t, err)

	bus := eventbus.New()
	defer bus.Close()

	sh := NewShards(st, bus, "/app/dist", "/shards", "uint64")
	require.NoError(t, sh.EnsureLoaded(ctx))

	sh.Insert(hashrange.NewUint64HashRange(0), hashrange.NewUint64HashRange(99), "X", 1)
	sh.Insert(hashrange.NewUint64HashRange(50), hashrange.NewUint64HashRange(149), "Y", 5)

	got := sh.GetNotifyables(hashrange.NewUint64HashRange(75))
	require.Equal(t, []string{"Y", "X"}, got)
	require.False(t, sh.IsCovered())

	sh.Insert(hashrange.NewUint64HashRange(100), hashrange.NewUint64HashRange(^uint64(0)), "Z", 0)
	require.True(t, sh.IsCovered())
}

func TestProcessInfoRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	_, err := st.Create(ctx, "/pinfo", nil, store.CreateFlags{})
	require.NoError(t, err)

	bus := eventbus.New()
	defer bus.Close()

	p := NewProcessInfo(st, bus, "/app/node/slot", "/pinfo")
	require.NoError(t, p.EnsureLoaded(ctx))
	p.Set([]string{"host1", "host2"}, []int32{9001, 9002})
	require.NoError(t, p.Publish(ctx, false))

	p2 := NewProcessInfo(st, bus, "/app/node/slot", "/pinfo")
	require.NoError(t, p2.EnsureLoaded(ctx))
	hosts, ports := p2.Get()
	require.Equal(t, []string{"host1", "host2"}, hosts)
	require.Equal(t, []int32{9001, 9002}, ports)
}

func TestProcessSlotInfoRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	_, err := st.Create(ctx, "/slotinfo", nil, store.CreateFlags{})
	require.NoError(t, err)

	bus := eventbus.New()
	defer bus.Close()

	p := NewProcessSlotInfo(st, bus, "/app/node", "/slotinfo")
	require.NoError(t, p.EnsureLoaded(ctx))
	p.Set(true, 4)
	require.NoError(t, p.Publish(ctx, false))

	p2 := NewProcessSlotInfo(st, bus, "/app/node", "/slotinfo")
	require.NoError(t, p2.EnsureLoaded(ctx))
	enable, max := p2.Get()
	require.True(t, enable)
	require.EqualValues(t, 4, max)
}

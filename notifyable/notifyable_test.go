package notifyable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store/memstore"
)

func newTestRegistry(t *testing.T) (*Registry, *Root) {
	t.Helper()
	st := memstore.New()
	bus := eventbus.New()
	t.Cleanup(func() { bus.EndOfService(); st.Close() })
	r := NewRegistry(st, bus)
	root, err := r.Root(context.Background(), "/root")
	require.NoError(t, err)
	return r, root
}

func TestRootIsSingletonAndLive(t *testing.T) {
	r, root := newTestRegistry(t)
	require.Equal(t, StateReady, root.State())

	again, err := r.Root(context.Background(), "/root")
	require.NoError(t, err)
	require.Same(t, root, again, "Root must intern to the same handle")
}

func TestApplicationCreateLoadRemove(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRegistry(t)

	names, err := root.ApplicationNames(ctx)
	require.NoError(t, err)
	require.Empty(t, names)

	app, ok, err := root.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "myapp", app.Name())
	require.Equal(t, "/root/applications/myapp", app.Key())

	names, err = root.ApplicationNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"myapp"}, names)

	loaded, ok, err := root.Application(ctx, "myapp", LoadFromRepository)
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, app, loaded, "intern identity: same key must yield the same handle")

	_, ok, err = root.Application(ctx, "ghost", LoadFromRepository)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, app.Remove(ctx, false))
	require.Equal(t, StateRemoved, app.State())
	require.True(t, clerr.Is(app.checkLive(), clerr.KindObjectRemoved))

	_, ok, err = root.Application(ctx, "myapp", CachedOnly)
	require.NoError(t, err)
	require.False(t, ok, "removed application must no longer be interned")
}

func TestApplicationCreateIsNoOpIfAlreadyLive(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRegistry(t)

	app1, _, err := root.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)

	app2, ok, err := root.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)
	require.True(t, ok)
	require.Same(t, app1, app2)
}

func TestRemoveNonRecursiveFailsWithLiveChildren(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRegistry(t)

	app, _, err := root.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)
	_, _, err = app.Group(ctx, "g1", CreateIfNotFound)
	require.NoError(t, err)

	err = app.Remove(ctx, false)
	require.Error(t, err)
	require.Equal(t, StateReady, app.State())

	require.NoError(t, app.Remove(ctx, true))
	require.Equal(t, StateRemoved, app.State())
}

func TestNestedHierarchyAndIntern(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRegistry(t)

	app, _, err := root.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)
	grp, _, err := app.Group(ctx, "mygroup", CreateIfNotFound)
	require.NoError(t, err)
	node, _, err := grp.Node(ctx, "node1", CreateIfNotFound)
	require.NoError(t, err)
	require.Equal(t, "/root/applications/myapp/groups/mygroup/nodes/node1", node.Key())

	connected, err := node.IsConnected(ctx)
	require.NoError(t, err)
	require.False(t, connected)

	healthy, err := node.IsHealthy(ctx)
	require.NoError(t, err)
	require.False(t, healthy)

	ps, _, err := node.ProcessSlot(ctx, "slot0", CreateIfNotFound)
	require.NoError(t, err)
	require.Equal(t, node, ps.Parent())
}

func TestGroupLeaderElectionLowestSequenceWins(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRegistry(t)
	app, _, err := root.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)
	grp, _, err := app.Group(ctx, "mygroup", CreateIfNotFound)
	require.NoError(t, err)

	won1, err := grp.TryToBecomeLeader(ctx)
	require.NoError(t, err)
	require.True(t, won1, "first and only bidder must win")
	require.True(t, grp.AmITheLeader())

	require.NoError(t, grp.AbdicateLeader(ctx))
	require.False(t, grp.AmITheLeader())

	names, _, err := app.registry.Store.GetChildren(ctx, grp.leaderDir(), false)
	require.NoError(t, err)
	require.Empty(t, names, "abdicate must remove the bid node")
}

func TestGroupLeaderElectionFailoverToNextBidder(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	bus := eventbus.New()
	t.Cleanup(func() { bus.EndOfService(); st.Close() })

	r1 := NewRegistry(st, bus)
	root1, err := r1.Root(ctx, "/root")
	require.NoError(t, err)
	app1, _, err := root1.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)
	grp1, _, err := app1.Group(ctx, "mygroup", CreateIfNotFound)
	require.NoError(t, err)

	r2 := NewRegistry(st, bus)
	root2, err := r2.Root(ctx, "/root")
	require.NoError(t, err)
	app2, _, err := root2.Application(ctx, "myapp", LoadFromRepository)
	require.NoError(t, err)
	grp2, _, err := app2.Group(ctx, "mygroup", LoadFromRepository)
	require.NoError(t, err)

	won1, err := grp1.TryToBecomeLeader(ctx)
	require.NoError(t, err)
	require.True(t, won1)

	won2, err := grp2.TryToBecomeLeader(ctx)
	require.NoError(t, err)
	require.False(t, won2, "second bidder must lose while the first bid stands")

	require.NoError(t, grp1.AbdicateLeader(ctx))

	won2, err = grp2.TryToBecomeLeader(ctx)
	require.NoError(t, err)
	require.True(t, won2, "failover: the remaining bidder must win after the leader abdicates")
}

// TestGroupLeaderElectionFailoverOnSessionExpiry covers the case the
// previous failover test didn't: promotion driven by the leader's bid
// disappearing out from under it (an expired ephemeral, as a session
// timeout would produce), never by a voluntary AbdicateLeader call. A
// third, purely-observing handle that never bids must still learn of the
// change through its own handler registered on the group's key; the three
// registries share one Bus.
func TestGroupLeaderElectionFailoverOnSessionExpiry(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	bus := eventbus.New()
	t.Cleanup(func() { bus.EndOfService(); st.Close() })

	r1 := NewRegistry(st, bus)
	root1, err := r1.Root(ctx, "/root")
	require.NoError(t, err)
	app1, _, err := root1.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)
	grp1, _, err := app1.Group(ctx, "mygroup", CreateIfNotFound)
	require.NoError(t, err)

	r2 := NewRegistry(st, bus)
	root2, err := r2.Root(ctx, "/root")
	require.NoError(t, err)
	app2, _, err := root2.Application(ctx, "myapp", LoadFromRepository)
	require.NoError(t, err)
	grp2, _, err := app2.Group(ctx, "mygroup", LoadFromRepository)
	require.NoError(t, err)

	r3 := NewRegistry(st, bus)
	root3, err := r3.Root(ctx, "/root")
	require.NoError(t, err)
	app3, _, err := root3.Application(ctx, "myapp", LoadFromRepository)
	require.NoError(t, err)
	grp3, _, err := app3.Group(ctx, "mygroup", LoadFromRepository)
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	bus.RegisterHandler(grp3.Key(), eventbus.MaskAll, func(ev eventbus.Event) {
		if ev.Type == eventbus.EventLeadershipChange {
			select {
			case fired <- struct{}{}:
			default:
			}
		}
	})

	won1, err := grp1.TryToBecomeLeader(ctx)
	require.NoError(t, err)
	require.True(t, won1)

	won2, err := grp2.TryToBecomeLeader(ctx)
	require.NoError(t, err)
	require.False(t, won2, "second bidder must lose while the first bid stands")
	require.False(t, grp3.AmITheLeader(), "observer never bid and must never appear to be leader")

	// Simulate grp1's session expiring: the ephemeral bid vanishes without
	// any call to grp1.AbdicateLeader.
	require.NoError(t, st.Delete(ctx, grp1.bidPath, -1))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for leadership-change event on session expiry")
	}

	require.Eventually(t, grp2.AmITheLeader, time.Second, 5*time.Millisecond,
		"surviving bidder must be promoted once the watch observes the bid's removal")
	require.False(t, grp3.AmITheLeader(), "observer still never bid and must never appear to be leader")
}

func TestPropertyListSearchParent(t *testing.T) {
	ctx := context.Background()
	_, root := newTestRegistry(t)
	app, _, err := root.Application(ctx, "myapp", CreateIfNotFound)
	require.NoError(t, err)
	grp, _, err := app.Group(ctx, "mygroup", CreateIfNotFound)
	require.NoError(t, err)
	node, _, err := grp.Node(ctx, "node1", CreateIfNotFound)
	require.NoError(t, err)

	appPL, _, err := app.PropertyList(ctx, "config", CreateIfNotFound)
	require.NoError(t, err)
	require.NoError(t, appPL.KeyValues().Set("region", []byte(`"us-east"`)))
	require.NoError(t, appPL.KeyValues().Publish(ctx, true))

	nodePL, _, err := node.PropertyList(ctx, "config", CreateIfNotFound)
	require.NoError(t, err)

	_, _, found, err := nodePL.KeyValues().Get(ctx, "region", false)
	require.NoError(t, err)
	require.False(t, found, "without searchParent, node's own empty list must not see application's value")

	_, fromList, found, err := nodePL.KeyValues().Get(ctx, "region", true)
	require.NoError(t, err)
	require.True(t, found, "with searchParent, node's list must see the application's value")
	require.Equal(t, "config", fromList)
}

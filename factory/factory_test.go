package factory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlib/clusterlib/lock"
	"github.com/clusterlib/clusterlib/notifyable"
	"github.com/clusterlib/clusterlib/rpc"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := New(context.Background(), Config{RootPath: "/root"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })
	return f
}

func TestFactoryMountsRoot(t *testing.T) {
	f := newTestFactory(t)
	require.Equal(t, "/root", f.Root().Key())
	require.True(t, f.IsConnected(context.Background()))
	require.NoError(t, f.Synchronize(context.Background()))
}

func TestClientLocksAgainstApplicationLockDir(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	client := f.CreateClient()

	app, _, err := f.Root().Application(ctx, "app1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	lockDir := app.Key() + "/" + notifyable.DirLocks

	require.NoError(t, client.Locks().Acquire(ctx, lockDir, lock.Exclusive, -1))
	require.True(t, client.Locks().HasLock(lockDir, lock.Exclusive))
	require.NoError(t, client.Locks().Release(ctx, lockDir, lock.Exclusive))
}

func TestClientQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	client := f.CreateClient()

	app, _, err := f.Root().Application(ctx, "app1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	nq, _, err := app.Queue(ctx, "work", notifyable.CreateIfNotFound)
	require.NoError(t, err)

	q := client.QueueFor(nq)
	defer q.Close()

	id, err := q.Put(ctx, []byte("payload"))
	require.NoError(t, err)
	payload, gotID, ok, err := q.Take(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, gotID)
	require.Equal(t, "payload", string(payload))
}

// TestClientJSONRPCRoundTrip exercises the spec's role split: the
// CreateJSONRPCMethodClient server receives and dispatches, the
// CreateJSONRPCResponseClient sender routes the matching reply back by id.
func TestClientJSONRPCRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newTestFactory(t)
	client := f.CreateClient()

	app, _, err := f.Root().Application(ctx, "app1", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	recvQueue, _, err := app.Queue(ctx, "recv", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	completedQueue, _, err := app.Queue(ctx, "completed", notifyable.CreateIfNotFound)
	require.NoError(t, err)
	respQueue, _, err := app.Queue(ctx, "resp", notifyable.CreateIfNotFound)
	require.NoError(t, err)

	server := client.CreateJSONRPCMethodClient(recvQueue, completedQueue, nil)
	go server.Serve(ctx)
	defer server.Stop()

	respClient := client.CreateJSONRPCResponseClient(respQueue, completedQueue)
	defer respClient.Stop()

	recv := client.QueueFor(recvQueue)
	defer recv.Close()

	params, err := json.Marshal(map[string]string{"notifyable-key": app.Key()})
	require.NoError(t, err)
	_, err = respClient.Call(ctx, recv, rpc.MethodStartProcess, []json.RawMessage{params}, 2*time.Second)
	require.Error(t, err) // app.Key() names an Application, not a process slot
}

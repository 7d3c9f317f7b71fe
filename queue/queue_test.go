package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlib/clusterlib/eventbus"
	"github.com/clusterlib/clusterlib/store"
	"github.com/clusterlib/clusterlib/store/memstore"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	st := memstore.New()
	bus := eventbus.New()
	_, err := st.Create(context.Background(), "/q", nil, store.CreateFlags{})
	require.NoError(t, err)
	q := New(st, bus, "/node", "/q")
	t.Cleanup(func() { q.Close(); bus.EndOfService(); st.Close() })
	return q
}

func TestPutTakeFIFOOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	id1, err := q.Put(ctx, []byte("first"))
	require.NoError(t, err)
	id2, err := q.Put(ctx, []byte("second"))
	require.NoError(t, err)
	require.Less(t, id1, id2)

	payload, id, ok, err := q.Take(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id1, id)
	require.LessOrEqual(t, id, id2)
	require.Equal(t, "first", string(payload))

	_, id, ok, err = q.Take(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id2, id)
}

func TestTakeNegativeTimeoutIsNonBlockingOnEmpty(t *testing.T) {
	q := newTestQueue(t)
	_, _, ok, err := q.Take(context.Background(), -1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFrontDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	id, err := q.Put(ctx, []byte("payload"))
	require.NoError(t, err)

	payload, frontID, ok, err := q.Front(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, frontID)
	require.Equal(t, "payload", string(payload))

	size, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, size, "Front must not remove the element")
}

func TestRemoveElementByID(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	id1, err := q.Put(ctx, []byte("a"))
	require.NoError(t, err)
	_, err = q.Put(ctx, []byte("b"))
	require.NoError(t, err)

	require.NoError(t, q.RemoveElement(ctx, id1))
	size, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, size)

	_, id, ok, err := q.Take(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, id1, id)
}

func TestClearRemovesEverything(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	_, err := q.Put(ctx, []byte("a"))
	require.NoError(t, err)
	_, err = q.Put(ctx, []byte("b"))
	require.NoError(t, err)

	require.NoError(t, q.Clear(ctx))
	empty, err := q.Empty(ctx)
	require.NoError(t, err)
	require.True(t, empty)
}

func TestPutRejectsOversizedPayload(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Put(context.Background(), make([]byte, MaxPayload+1))
	require.Error(t, err)
}

func TestTakeBlocksUntilPut(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	done := make(chan []byte, 1)
	go func() {
		payload, _, ok, err := q.Take(ctx, 2*time.Second)
		if err != nil || !ok {
			done <- nil
			return
		}
		done <- payload
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := q.Put(ctx, []byte("woke"))
	require.NoError(t, err)

	select {
	case payload := <-done:
		require.Equal(t, "woke", string(payload))
	case <-time.After(3 * time.Second):
		t.Fatal("Take did not wake up after Put")
	}
}

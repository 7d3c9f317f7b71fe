package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/store"
	"github.com/clusterlib/clusterlib/store/memstore"
	"github.com/clusterlib/clusterlib/timer"
)

func newTestManager(t *testing.T) (*Manager, store.Store, string) {
	t.Helper()
	st := memstore.New()
	ts := timer.New()
	t.Cleanup(func() { ts.Close(); st.Close() })
	_, err := st.Create(context.Background(), "/locks", nil, store.CreateFlags{})
	require.NoError(t, err)
	return NewManager(st, ts), st, "/locks"
}

func TestAcquireReleaseExclusiveUncontended(t *testing.T) {
	m, _, dir := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, dir, Exclusive, -1))
	require.True(t, m.HasLock(dir, Exclusive))
	require.NoError(t, m.Release(ctx, dir, Exclusive))
	require.False(t, m.HasLock(dir, Exclusive))
}

func TestAcquireReentrantSameProcess(t *testing.T) {
	m, _, dir := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, dir, Shared, -1))
	require.NoError(t, m.Acquire(ctx, dir, Shared, -1))
	require.NoError(t, m.Release(ctx, dir, Shared))
	require.True(t, m.HasLock(dir, Shared), "must still hold after one of two releases")
	require.NoError(t, m.Release(ctx, dir, Shared))
	require.False(t, m.HasLock(dir, Shared))
}

func TestNonBlockingAcquireFailsWithContender(t *testing.T) {
	m, st, dir := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, dir, Exclusive, -1))

	ts := timer.New()
	t.Cleanup(ts.Close)
	m2 := NewManager(st, ts)
	err := m2.Acquire(ctx, dir, Exclusive, 0)
	require.Error(t, err)
	require.True(t, clerr.Is(err, clerr.KindLockTimeout))
}

func TestBoundedAcquireTimesOut(t *testing.T) {
	m, st, dir := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, dir, Exclusive, -1))

	ts := timer.New()
	t.Cleanup(ts.Close)
	m2 := NewManager(st, ts)
	start := time.Now()
	err := m2.Acquire(ctx, dir, Exclusive, 50)
	require.Error(t, err)
	require.True(t, clerr.Is(err, clerr.KindLockTimeout))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSharedLocksDoNotBlockEachOther(t *testing.T) {
	m, st, dir := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, dir, Shared, -1))

	ts := timer.New()
	t.Cleanup(ts.Close)
	m2 := NewManager(st, ts)
	require.NoError(t, m2.Acquire(ctx, dir, Shared, 500))
}

func TestExclusiveWaitsForSharedThenAcquiresOnRelease(t *testing.T) {
	m, st, dir := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.Acquire(ctx, dir, Shared, -1))

	ts := timer.New()
	t.Cleanup(ts.Close)
	m2 := NewManager(st, ts)

	done := make(chan error, 1)
	go func() { done <- m2.Acquire(ctx, dir, Exclusive, -1) }()

	select {
	case err := <-done:
		t.Fatalf("exclusive must not acquire while shared is held, got err=%v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, m.Release(ctx, dir, Shared))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("exclusive acquire did not unblock after shared release")
	}
}

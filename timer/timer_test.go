package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduleFires(t *testing.T) {
	svc := New()
	defer svc.Close()

	var fired int32
	done := make(chan struct{})
	svc.Schedule(10*time.Millisecond, func() {
		atomic.StoreInt32(&fired, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
}

func TestCancelPreventsFire(t *testing.T) {
	svc := New()
	defer svc.Close()

	var fired int32
	id := svc.Schedule(50*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	require.True(t, svc.Cancel(id))
	require.False(t, svc.Cancel(id), "cancel is not idempotent on success")

	time.Sleep(150 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&fired))
}

func TestOrdering(t *testing.T) {
	svc := New()
	defer svc.Close()

	var order []int
	done := make(chan struct{})
	svc.Schedule(30*time.Millisecond, func() {
		order = append(order, 2)
		close(done)
	})
	svc.Schedule(10*time.Millisecond, func() {
		order = append(order, 1)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callbacks never fired")
	}
	require.Equal(t, []int{1, 2}, order)
}

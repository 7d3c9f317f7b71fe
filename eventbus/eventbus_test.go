package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clusterlib/clusterlib/store"
)

func TestInternalRoutingByPath(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan store.WatchEvent, 1)
	b.RegisterInternal("/a/b", func(ev store.WatchEvent) { got <- ev })

	b.Feed(store.WatchEvent{Path: "/a/b", Type: store.EventNodeDataChanged})

	select {
	case ev := <-got:
		require.Equal(t, "/a/b", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("internal handler never invoked")
	}
}

func TestUserHandlerMaskFiltering(t *testing.T) {
	b := New()
	defer b.Close()

	var mu sync.Mutex
	var received []EventType
	_, _ = b.RegisterHandler("key1", Mask(EventCurrentStateChange), func(ev Event) {
		mu.Lock()
		received = append(received, ev.Type)
		mu.Unlock()
	})

	b.Post(Event{Key: "key1", Type: EventDesiredStateChange})
	b.Post(Event{Key: "key1", Type: EventCurrentStateChange})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventType{EventCurrentStateChange}, received)
}

func TestCancelHandlerStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	count := make(chan struct{}, 10)
	id, _ := b.RegisterHandler("key1", MaskAll, func(ev Event) { count <- struct{}{} })

	b.Post(Event{Key: "key1", Type: EventCreation})
	<-count

	b.CancelHandler(id)
	b.Post(Event{Key: "key1", Type: EventCreation})

	select {
	case <-count:
		t.Fatal("handler delivered after cancellation")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndOfServiceDeliveredOnce(t *testing.T) {
	b := New()
	defer b.Close()

	done := make(chan struct{})
	_, _ = b.RegisterHandler("leaf", MaskAll, func(ev Event) {
		if ev.Type == EventEndOfService {
			close(done)
		}
	})

	b.EndOfService()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("end of service never delivered")
	}
}

func TestWaitUntilConditionSignaledAfterDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	_, cond := b.RegisterHandler("leaf", MaskAll, func(ev Event) {})

	waited := make(chan struct{})
	go func() {
		cond.Lock()
		cond.WaitUntilCondition(2 * time.Second)
		cond.Unlock()
		close(waited)
	}()

	time.Sleep(20 * time.Millisecond)
	b.Post(Event{Key: "leaf", Type: EventCreation})

	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilCondition never returned after delivery")
	}
}

func TestMeetsConditionAndReset(t *testing.T) {
	b := New()
	defer b.Close()

	_, cond := b.RegisterHandler("leaf", MaskAll, func(ev Event) {})
	require.False(t, cond.MeetsCondition())

	b.Post(Event{Key: "leaf", Type: EventCreation})
	require.Eventually(t, cond.MeetsCondition, time.Second, 5*time.Millisecond)

	cond.ResetCondition()
	require.False(t, cond.MeetsCondition())
}

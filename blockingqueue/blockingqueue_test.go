package blockingqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTakeNonBlockingEmpty(t *testing.T) {
	q := New[int]()
	start := time.Now()
	_, ok := q.Take(0)
	require.False(t, ok)
	require.Less(t, time.Since(start), 100*time.Millisecond, "zero timeout must return immediately")
}

func TestPutThenTake(t *testing.T) {
	q := New[string]()
	q.Put("a")
	q.Put("b")

	v, ok := q.Take(0)
	require.True(t, ok)
	require.Equal(t, "a", v)

	front, ok := q.Front()
	require.True(t, ok)
	require.Equal(t, "b", front)
}

func TestTakeBlocksUntilPut(t *testing.T) {
	q := New[int]()
	result := make(chan int, 1)
	go func() {
		v, ok := q.Take(time.Second)
		if ok {
			result <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put(42)

	select {
	case v := <-result:
		require.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("Take never returned")
	}
}

func TestTakeTimesOut(t *testing.T) {
	q := New[int]()
	start := time.Now()
	_, ok := q.Take(50 * time.Millisecond)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestConcurrentProducersPreserveFIFOPerProducer(t *testing.T) {
	q := New[int]()
	const perProducer = 50
	const producers = 5

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Put(base*1000 + i)
			}
		}(p)
	}
	wg.Wait()

	seen := map[int]int{}
	for i := 0; i < perProducer*producers; i++ {
		v, ok := q.Take(time.Second)
		require.True(t, ok)
		producer := v / 1000
		seq := v % 1000
		require.Equal(t, seen[producer], seq, "producer %d items must arrive in FIFO order", producer)
		seen[producer]++
	}
}

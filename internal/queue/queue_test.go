package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnbounded_FIFO(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 100, q.Len())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v, ok := q.Pop(ctx)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Zero(t, q.Len())
}

func TestUnbounded_DrainAfterClose(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")
	q.Close()

	assert.False(t, q.Push("c"), "push after close must be rejected")
	assert.True(t, q.Closed())

	ctx := context.Background()
	v, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	v, ok = q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = q.Pop(ctx)
	assert.False(t, ok)
}

func TestUnbounded_PopBlocksUntilPush(t *testing.T) {
	q := New[int]()
	got := make(chan int, 1)
	go func() {
		v, ok := q.Pop(context.Background())
		if ok {
			got <- v
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(7)
	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after push")
	}
}

func TestUnbounded_CloseWakesConsumer(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(context.Background())
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the consumer")
	}
}

func TestUnbounded_PopCancelled(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestUnbounded_ConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 500
	q := New[[2]int]()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push([2]int{p, i})
			}
		}(p)
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	// Each producer's items must arrive in its own submission order.
	next := make([]int, producers)
	total := 0
	for {
		v, ok := q.Pop(context.Background())
		if !ok {
			break
		}
		require.Equal(t, next[v[0]], v[1], "producer %d out of order", v[0])
		next[v[0]]++
		total++
	}
	assert.Equal(t, producers*perProducer, total)
}

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := New[int]()
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(i))
	}
	assert.Equal(t, 100, q.Len())

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueInterleaved(t *testing.T) {
	t.Parallel()

	q := New[string]()
	ctx := context.Background()

	q.Push("a")
	q.Push("b")
	v, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	// pushed while the read side still holds "b"
	q.Push("c")
	for _, want := range []string{"b", "c"} {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := New[int]()
	got := make(chan int)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	select {
	case <-got:
		t.Fatal("pop returned before anything was pushed")
	case <-time.After(50 * time.Millisecond):
	}

	q.Push(42)
	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(5 * time.Second):
		t.Fatal("pop did not return after push")
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	t.Run("abandons_pending", func(t *testing.T) {
		t.Parallel()

		q := New[int]()
		q.Push(1)
		q.Push(2)
		q.Close()
		q.Close()

		_, err := q.Pop(context.Background())
		require.ErrorIs(t, err, ErrClosed)
		assert.False(t, q.Push(3))
		assert.True(t, q.Closed())
	})

	t.Run("unblocks_pop", func(t *testing.T) {
		t.Parallel()

		q := New[int]()
		errc := make(chan error, 1)
		go func() {
			_, err := q.Pop(context.Background())
			errc <- err
		}()
		q.Close()
		require.ErrorIs(t, <-errc, ErrClosed)
	})

	t.Run("context_done", func(t *testing.T) {
		t.Parallel()

		q := New[int]()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := q.Pop(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestQueueManyProducers(t *testing.T) {
	t.Parallel()

	const (
		producers = 8
		perProd   = 250
	)

	q := New[[2]int]()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				q.Push([2]int{p, i})
			}
		}(p)
	}

	last := make([]int, producers)
	for i := range last {
		last[i] = -1
	}
	ctx := context.Background()
	for n := 0; n < producers*perProd; n++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		// per producer order is preserved
		require.Equal(t, last[v[0]]+1, v[1])
		last[v[0]] = v[1]
	}
	wg.Wait()
}

package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoopRunsInOrder(t *testing.T) {
	t.Parallel()

	l := New(context.Background(), nil)
	defer l.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 50; i++ {
		i := i
		require.True(t, l.Dispatch(func() {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
		}))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopNeverRunsConcurrently(t *testing.T) {
	t.Parallel()

	l := New(context.Background(), nil)
	defer l.Close()

	var (
		running int
		overlap bool
		wg      sync.WaitGroup
	)
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				l.Dispatch(func() {
					running++
					if running > 1 {
						overlap = true
					}
					time.Sleep(time.Microsecond)
					running--
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Call(context.Background(), func() {}))

	var sawOverlap bool
	require.NoError(t, l.Call(context.Background(), func() { sawOverlap = overlap }))
	assert.False(t, sawOverlap)
}

func TestLoopSurvivesPanics(t *testing.T) {
	t.Parallel()

	l := New(context.Background(), nil)
	defer l.Close()

	l.Dispatch(func() { panic("boom") })

	var ran bool
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoopClose(t *testing.T) {
	t.Parallel()

	l := New(context.Background(), nil)
	l.Close()

	assert.False(t, l.Dispatch(func() {}))
	require.ErrorIs(t, l.Call(context.Background(), func() {}), ErrLoopClosed)

	select {
	case <-l.Done():
	default:
		t.Fatal("loop should be done after Close")
	}
}

func TestLoopCallContext(t *testing.T) {
	t.Parallel()

	l := New(context.Background(), nil)
	defer l.Close()

	release := make(chan struct{})
	l.Dispatch(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Call(ctx, func() {})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestLoopParentContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	l := New(ctx, nil)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop with its parent context")
	}
}

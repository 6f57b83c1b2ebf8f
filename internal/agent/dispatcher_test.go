package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDispatcher_PreservesOrderPerKey(t *testing.T) {
	d := NewDispatcher()

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		require.NoError(t, d.Dispatch("chat", func(ctx context.Context) {
			if i%7 == 0 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, d.Shutdown(context.Background()))

	require.Len(t, got, 50)
	for i, v := range got {
		require.Equal(t, i, v)
	}
	require.Zero(t, d.Active())
}

func TestDispatcher_KeysRunInParallel(t *testing.T) {
	d := NewDispatcher()

	release := make(chan struct{})
	started := make(chan string, 2)
	for _, key := range []string{"a", "b"} {
		key := key
		require.NoError(t, d.Dispatch(key, func(ctx context.Context) {
			started <- key
			<-release
		}))
	}

	// Both keys start while the other is still blocked.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("keys did not run in parallel")
		}
	}
	require.Equal(t, 2, d.Active())
	close(release)
	require.NoError(t, d.Shutdown(context.Background()))
}

func TestDispatcher_SameKeyNeverOverlaps(t *testing.T) {
	d := NewDispatcher()

	var mu sync.Mutex
	running, maxRunning := 0, 0
	for i := 0; i < 20; i++ {
		require.NoError(t, d.Dispatch("chat", func(ctx context.Context) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(100 * time.Microsecond)
			mu.Lock()
			running--
			mu.Unlock()
		}))
	}
	require.NoError(t, d.Shutdown(context.Background()))
	require.Equal(t, 1, maxRunning)
}

func TestDispatcher_PanicDoesNotStopQueue(t *testing.T) {
	d := NewDispatcher()

	ran := false
	require.NoError(t, d.Dispatch("chat", func(ctx context.Context) { panic("boom") }))
	require.NoError(t, d.Dispatch("chat", func(ctx context.Context) { ran = true }))
	require.NoError(t, d.Shutdown(context.Background()))
	require.True(t, ran)
}

func TestDispatcher_ShutdownDeadline(t *testing.T) {
	d := NewDispatcher()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, d.Dispatch("chat", func(ctx context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)
	require.ErrorIs(t, d.Dispatch("chat", func(context.Context) {}), ErrDispatcherClosed)
}

package workerpool

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectReturnsAllResults(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 4})
	defer wp.Close()

	room := wp.CreateRoom(context.Background(), 100)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, room.NewTask(func(ctx context.Context) interface{} {
			return i * i
		}))
	}

	results := room.Collect()
	require.Len(t, results, 100)

	got := make([]int, 0, len(results))
	for _, r := range results {
		got = append(got, r.(int))
	}
	sort.Ints(got)
	for i, v := range got {
		assert.Equal(t, i*i, v)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 2})
	defer wp.Close()

	a := wp.CreateRoom(context.Background(), 10)
	b := wp.CreateRoom(context.Background(), 10)
	for i := 0; i < 10; i++ {
		require.NoError(t, a.NewTaskWaitForFreeSlot(func(context.Context) interface{} { return "a" }))
		require.NoError(t, b.NewTaskWaitForFreeSlot(func(context.Context) interface{} { return "b" }))
	}

	for _, r := range a.Collect() {
		assert.Equal(t, "a", r)
	}
	for _, r := range b.Collect() {
		assert.Equal(t, "b", r)
	}
}

func TestCancelSkipsPendingTasks(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 1})
	defer wp.Close()

	room := wp.CreateRoom(context.Background(), 50)
	release := make(chan struct{})
	var ran atomic.Int32

	require.NoError(t, room.NewTask(func(ctx context.Context) interface{} {
		ran.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return 0
	}))
	for i := 0; i < 49; i++ {
		require.NoError(t, room.NewTask(func(context.Context) interface{} {
			ran.Add(1)
			return 1
		}))
	}

	results := room.Results()
	room.Cancel()
	close(release)

	for range results {
	}
	assert.Less(t, ran.Load(), int32(50))
}

func TestEarlyExitAfterEnoughResults(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 4})
	defer wp.Close()

	room := wp.CreateRoom(context.Background(), 20)
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, room.NewTask(func(ctx context.Context) interface{} {
			if i >= 5 {
				select {
				case <-ctx.Done():
				case <-time.After(5 * time.Second):
				}
			}
			return i
		}))
	}

	start := time.Now()
	seen := 0
	for range room.Results() {
		seen++
		if seen == 5 {
			room.Cancel()
		}
	}
	assert.GreaterOrEqual(t, seen, 5)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestParentContextCancellation(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 2})
	defer wp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	room := wp.CreateRoom(ctx, 1)
	err := room.NewTaskWaitForFreeSlot(func(context.Context) interface{} { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, room.Collect())
}

func TestNewTaskRoomBufferFull(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 1})
	defer wp.Close()

	room := wp.CreateRoom(context.Background(), 1)
	require.NoError(t, room.NewTask(func(context.Context) interface{} { return 1 }))
	require.Eventually(t, func() bool { return len(room.resultChan) == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, room.NewTask(func(context.Context) interface{} { return 2 }), ErrRoomBufferFull)
	assert.Len(t, room.Collect(), 1)
}

func TestClosedPoolRejectsTasks(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 1})
	wp.Close()

	room := wp.CreateRoom(context.Background(), 1)
	assert.ErrorIs(t, room.NewTaskWaitForFreeSlot(func(context.Context) interface{} { return nil }), ErrClosed)
	assert.Empty(t, room.Collect())
}

func TestCloseDuringEnqueueReleasesRooms(t *testing.T) {
	for round := 0; round < 50; round++ {
		wp := NewWorkerPool(Config{WorkerCount: 2, GlobalBuffer: 4})

		const senders = 16
		collected := make(chan int, senders)
		for i := 0; i < senders; i++ {
			go func() {
				room := wp.CreateRoom(context.Background(), 8)
				for j := 0; j < 8; j++ {
					if err := room.NewTaskWaitForFreeSlot(func(context.Context) interface{} { return j }); err != nil {
						break
					}
				}
				collected <- len(room.Collect())
			}()
		}
		wp.Close()

		timeout := time.After(5 * time.Second)
		for i := 0; i < senders; i++ {
			select {
			case n := <-collected:
				assert.LessOrEqual(t, n, 8)
			case <-timeout:
				t.Fatalf("round %d: room never closed after pool shutdown", round)
			}
		}
	}
}

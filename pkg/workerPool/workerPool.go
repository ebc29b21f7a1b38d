// Package workerpool runs scatter/gather jobs on a fixed set of goroutines.
// Jobs are grouped in rooms; each room collects its own results and can be
// cancelled without affecting other rooms.
package workerpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

var (
	ErrGlobalBufferFull = errors.New("workerpool: global buffer is full")
	ErrRoomBufferFull   = errors.New("workerpool: room buffer is full")
	ErrClosed           = errors.New("workerpool: pool is closed")
)

type WorkerPool struct {
	config    Config
	taskQueue chan Task
	done      chan struct{}
	closeOnce sync.Once
	workers   sync.WaitGroup
	// sending is read-held by enqueuers; Close write-locks it to wait out
	// sends that raced with done.
	sending sync.RWMutex
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// Room is one batch of tasks whose results are collected together.
type Room struct {
	ctx        context.Context
	cancel     context.CancelFunc
	bufferSize int
	resultChan chan interface{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	wp         *WorkerPool
}

type Task struct {
	run  func(ctx context.Context) interface{}
	room *Room
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan Task, config.GlobalBuffer),
		done:      make(chan struct{}),
	}

	wp.workers.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}
	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.workers.Done()
	for {
		select {
		case <-wp.done:
			return
		case t := <-wp.taskQueue:
			t.execute()
		}
	}
}

func (t Task) execute() {
	defer t.room.wg.Done()
	if t.room.ctx.Err() != nil {
		return
	}
	result := t.run(t.room.ctx)
	select {
	case t.room.resultChan <- result:
	case <-t.room.ctx.Done():
	}
}

// Close stops the workers. Queued tasks that have not started are dropped
// and their rooms still close.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		close(wp.done)
		wp.sending.Lock()
		wp.sending.Unlock() //nolint:staticcheck // barrier only
		wp.workers.Wait()
		for {
			select {
			case t := <-wp.taskQueue:
				t.room.wg.Done()
			default:
				return
			}
		}
	})
}

func (wp *WorkerPool) Workers() int {
	return wp.config.WorkerCount
}

// CreateRoom opens a room for up to size results. Cancelling ctx or calling
// Room.Cancel skips tasks that have not started yet.
func (wp *WorkerPool) CreateRoom(ctx context.Context, size int) *Room {
	if size < 1 {
		size = 1
	}
	roomCtx, cancel := context.WithCancel(ctx)
	return &Room{
		ctx:        roomCtx,
		cancel:     cancel,
		bufferSize: size,
		resultChan: make(chan interface{}, size),
		wp:         wp,
	}
}

// NewTaskWaitForFreeSlot queues job, blocking while the global queue is
// full.
func (ro *Room) NewTaskWaitForFreeSlot(job func(ctx context.Context) interface{}) error {
	ro.wp.sending.RLock()
	defer ro.wp.sending.RUnlock()

	select {
	case <-ro.wp.done:
		return ErrClosed
	default:
	}

	ro.wg.Add(1)
	select {
	case <-ro.wp.done:
		ro.wg.Done()
		return ErrClosed
	case <-ro.ctx.Done():
		ro.wg.Done()
		return ro.ctx.Err()
	case ro.wp.taskQueue <- Task{run: job, room: ro}:
		return nil
	}
}

// NewTask queues job without blocking.
func (ro *Room) NewTask(job func(ctx context.Context) interface{}) error {
	if len(ro.wp.taskQueue) == cap(ro.wp.taskQueue) {
		return ErrGlobalBufferFull
	}
	if len(ro.resultChan) == cap(ro.resultChan) {
		return ErrRoomBufferFull
	}
	return ro.NewTaskWaitForFreeSlot(job)
}

// Results streams results as tasks finish. The channel closes once every
// queued task has finished or been skipped. Queue all tasks before calling
// it.
func (ro *Room) Results() <-chan interface{} {
	go ro.waitAndClose()
	return ro.resultChan
}

// Collect waits for every task and returns the results in completion order.
func (ro *Room) Collect() []interface{} {
	results := make([]interface{}, 0, ro.bufferSize)
	for result := range ro.Results() {
		results = append(results, result)
	}
	ro.cancel()
	return results
}

// Cancel skips tasks that have not started and unblocks running ones.
func (ro *Room) Cancel() {
	ro.cancel()
}

func (ro *Room) waitAndClose() {
	ro.closeOnce.Do(func() {
		ro.wg.Wait()
		close(ro.resultChan)
	})
}

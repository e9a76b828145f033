package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

type WorkerPool struct {
	config    Config
	taskQueue chan Task
	closeOnce sync.Once
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// Room groups the tasks of one job so their results can be collected
// independently of other rooms sharing the pool.
type Room struct {
	result               []interface{}
	resultMutex          sync.Mutex
	asyncCollectorWait   sync.WaitGroup
	asyncCollectorActive atomic.Bool
	bufferSize           int
	resultChan           chan interface{}
	wg                   sync.WaitGroup
	wp                   *WorkerPool
	closeOnce            sync.Once
}

type Task struct {
	run  func() interface{}
	room *Room
}

func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}

	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = config.WorkerCount * 4
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan Task, config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) WorkerCount() int { return wp.config.WorkerCount }

func (wp *WorkerPool) worker() {
	for t := range wp.taskQueue {
		t.room.resultChan <- t.run()
		t.room.wg.Done()
	}
}

// Close stops the workers once queued tasks are done. Submitting after Close panics.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		close(wp.taskQueue)
	})
}

// CreateRoom creates a room whose result buffer holds size results. Use
// AsyncCollector when more than size tasks are submitted.
func (wp *WorkerPool) CreateRoom(size int) *Room {
	if size < 1 {
		size = 1
	}
	return &Room{
		bufferSize: size,
		resultChan: make(chan interface{}, size),
		wp:         wp,
	}
}

// NewTaskWaitForFreeSlot blocks until the pool accepts the task or ctx is done.
func (ro *Room) NewTaskWaitForFreeSlot(ctx context.Context, job func() interface{}) error {
	task := Task{
		run:  job,
		room: ro,
	}
	ro.wg.Add(1)
	select {
	case ro.wp.taskQueue <- task:
		return nil
	case <-ctx.Done():
		ro.wg.Done()
		return ctx.Err()
	}
}

// NewTask fails instead of blocking when the pool or the room is full.
func (ro *Room) NewTask(job func() interface{}) error {
	if len(ro.wp.taskQueue) == cap(ro.wp.taskQueue) {
		return fmt.Errorf("global buffer is full, wait for tasks to finish or increase the buffer size")
	}

	if len(ro.resultChan) == cap(ro.resultChan) {
		return fmt.Errorf("room buffer is full, wait for tasks to finish or increase the buffer size")
	}

	return ro.NewTaskWaitForFreeSlot(context.Background(), job)
}

// Collect waits for every submitted task and returns the results in completion order.
func (ro *Room) Collect() []interface{} {
	go ro.WaitAndClose()
	results := make([]interface{}, 0, ro.bufferSize)

	for result := range ro.resultChan {
		results = append(results, result)
	}

	return results
}

func (ro *Room) AsyncCollector() {
	if !ro.asyncCollectorActive.CompareAndSwap(false, true) {
		return
	}

	ro.asyncCollectorWait.Add(1)

	go func() {
		defer ro.asyncCollectorActive.Store(false)
		defer ro.asyncCollectorWait.Done()

		for result := range ro.resultChan {
			ro.resultMutex.Lock()
			ro.result = append(ro.result, result)
			ro.resultMutex.Unlock()
		}
	}()
}

func (ro *Room) GetAsyncResults() []interface{} {
	go ro.WaitAndClose()
	ro.asyncCollectorWait.Wait()

	ro.resultMutex.Lock()
	defer ro.resultMutex.Unlock()

	return ro.result
}

func (ro *Room) WaitAndClose() {
	ro.wg.Wait()
	ro.closeOnce.Do(func() {
		close(ro.resultChan)
	})
}

package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/comigor/quotebot/internal/logger"
)

var ErrDispatcherClosed = errors.New("dispatcher is shut down")

// Dispatcher runs tasks with per-key FIFO ordering. Each key with pending work
// owns one goroutine that drains its queue and exits when the queue is empty.
type Dispatcher struct {
	mu     sync.Mutex
	queues map[string][]func(ctx context.Context)
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{queues: make(map[string][]func(ctx context.Context))}
}

// Dispatch queues task behind earlier tasks with the same key.
func (d *Dispatcher) Dispatch(key string, task func(ctx context.Context)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	q, draining := d.queues[key]
	d.queues[key] = append(q, task)
	if !draining {
		d.wg.Add(1)
		go d.drain(key)
	}
	return nil
}

// Active reports how many keys have queued or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[key]
		if len(q) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		task := q[0]
		q[0] = nil
		d.queues[key] = q[1:]
		d.mu.Unlock()

		run(key, task)
	}
}

func run(key string, task func(ctx context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.L.Error("dispatched task panicked", "key", key, "panic", rec)
		}
	}()
	task(context.Background())
}

// Shutdown rejects new tasks and waits until queued tasks finish or ctx ends.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

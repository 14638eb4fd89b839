package ble

import (
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrAborted is delivered to operations cancelled by Abort before they ran.
	ErrAborted = errors.New("ble: operation aborted")
	// ErrQueueClosed is delivered to operations submitted after Close.
	ErrQueueClosed = errors.New("ble: queue closed")
)

// request is one pending GATT operation and its completion continuation.
type request struct {
	name string
	run  func() error
	done chan error // buffered, receives exactly one value
}

// Queue runs GATT operations one at a time in submission order.
// Platform stacks reject or corrupt overlapping requests on a link, so
// every read, write, notification enable and MTU request goes through here.
type Queue struct {
	mu      sync.Mutex
	pending []*request
	closed  bool

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewQueue creates a queue and starts its worker.
func NewQueue() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Submit appends an operation and returns the channel its result is
// delivered on. The caller may drop the channel if it does not care.
func (q *Queue) Submit(name string, run func() error) <-chan error {
	r := &request{name: name, run: run, done: make(chan error, 1)}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		r.done <- ErrQueueClosed
		return r.done
	}
	q.pending = append(q.pending, r)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return r.done
}

// Do submits an operation and waits for its result.
func (q *Queue) Do(name string, run func() error) error {
	return <-q.Submit(name, run)
}

// Abort cancels every operation that has not started yet. The operation
// currently executing, if any, is left to complete on its own.
// Returns the number of cancelled operations.
func (q *Queue) Abort() int {
	q.mu.Lock()
	cancelled := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, r := range cancelled {
		r.done <- ErrAborted
	}
	if len(cancelled) > 0 {
		slog.Debug("[BLE] aborted queued operations", "count", len(cancelled))
	}
	return len(cancelled)
}

// Len returns the number of operations waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close aborts pending operations, rejects new ones and waits for the
// worker to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.Abort()
	close(q.stop)
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		r := q.next()
		if r == nil {
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}

		err := r.run()
		if err != nil {
			slog.Debug("[BLE] operation failed", "op", r.name, "error", err)
		}
		r.done <- err
	}
}

// next pops the head of the queue, or returns nil when it is empty.
func (q *Queue) next() *request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	r := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return r
}

package instant

import "sync"

// CallbackQueue runs completion handlers on a context chosen by the caller.
type CallbackQueue interface {
	Dispatch(fn func())
}

// SerialQueue runs dispatched functions one at a time, in order, on a single
// dedicated goroutine.
type SerialQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

var _ CallbackQueue = (*SerialQueue)(nil)

// NewSerialQueue starts the queue goroutine. Call Close to stop it.
func NewSerialQueue() *SerialQueue {
	q := &SerialQueue{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Dispatch enqueues fn. It never blocks. Functions dispatched after Close
// run on their own goroutine.
func (q *SerialQueue) Dispatch(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		go fn()
		return
	}
	q.queue = append(q.queue, fn)
	q.cond.Signal()
}

// Close stops accepting work, waits for already queued functions to run and
// then stops the goroutine.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		q.cond.Signal()
	}
	q.mu.Unlock()
	<-q.done
}

func (q *SerialQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.queue) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue[0] = nil
		q.queue = q.queue[1:]
		q.mu.Unlock()

		fn()
	}
}

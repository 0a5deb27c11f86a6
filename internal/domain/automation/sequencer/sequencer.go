// Package sequencer serializes work per conversation key while keeping
// unrelated conversations fully parallel.
package sequencer

import (
	"context"
	"sync"
)

// Task is one unit of keyed work
type Task func(ctx context.Context)

// Sequencer runs tasks FIFO per key. Tasks submitted for one key execute
// strictly in submission order with at most one in flight; distinct keys
// run concurrently up to the worker-slot limit.
type Sequencer struct {
	mu     sync.Mutex
	queues map[string]*queue
	slots  chan struct{}
	wg     sync.WaitGroup
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

type queue struct {
	tasks []Task
}

// New creates a sequencer with the given cross-key parallelism limit
func New(workers int) *Sequencer {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		queues: make(map[string]*queue),
		slots:  make(chan struct{}, workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run enqueues fn for serialized execution against key. Returns false if
// the sequencer is already closed. Submission order per key is execution
// order.
func (s *Sequencer) Run(key string, fn Task) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}

	q, running := s.queues[key]
	if running {
		// A drainer owns this key; it will pick the task up.
		q.tasks = append(q.tasks, fn)
		s.mu.Unlock()
		return true
	}

	q = &queue{tasks: []Task{fn}}
	s.queues[key] = q
	s.wg.Add(1)
	s.mu.Unlock()

	go s.drain(key, q)
	return true
}

// drain executes a key's queue until empty, then retires the key
func (s *Sequencer) drain(key string, q *queue) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if len(q.tasks) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		s.mu.Unlock()

		s.slots <- struct{}{}
		task(s.ctx)
		<-s.slots
	}
}

// Close stops accepting work and waits for queued tasks to finish
func (s *Sequencer) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

// Package perkey serializes work per key while work for different keys
// runs concurrently. The command pipeline uses it to line up commands for
// the same event stream inside one process; the store's conditional append
// remains the cross-process arbiter.
package perkey

import (
	"context"
	"sync"
)

// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
var ErrSchedulerClosed = &SchedulerError{"scheduler is closed"}

// SchedulerError is a simple error implementation.
type SchedulerError struct{ msg string }

func (e *SchedulerError) Error() string { return e.msg }

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task queue size per key (default 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler executes tasks such that, for any given key, tasks run
// sequentially in submission order. Tasks for different keys proceed in
// parallel.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	inflight   sync.WaitGroup
	bufferSize int
}

type worker struct {
	tasks chan *task
}

type task struct {
	fn   func() error
	done chan error
}

// New creates a Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do runs fn for the given key, blocking until it finishes, and returns
// its error. Calls for the same key never overlap.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is Do with cancellation: if ctx ends while waiting to enqueue
// or waiting for the result, the context error is returned. A task that
// was already enqueued still executes.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.inflight.Add(1)
	w := s.workerLocked(key)
	s.mu.Unlock()

	t := &task{fn: fn, done: make(chan error, 1)}

	select {
	case w.tasks <- t:
	case <-ctx.Done():
		s.inflight.Done()
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		s.inflight.Done()
		return err
	case <-ctx.Done():
		s.inflight.Done()
		return ctx.Err()
	}
}

// Close stops accepting tasks and shuts down all workers. Tasks already
// queued still run.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// no sends may race the close below
	s.inflight.Wait()

	s.mu.Lock()
	for _, w := range s.workers {
		close(w.tasks)
	}
	s.workers = nil
	s.mu.Unlock()
}

func (s *Scheduler[K]) workerLocked(key K) *worker {
	w, ok := s.workers[key]
	if ok {
		return w
	}
	w = &worker{tasks: make(chan *task, s.bufferSize)}
	s.workers[key] = w
	go func() {
		for t := range w.tasks {
			t.done <- t.fn()
		}
	}()
	return w
}

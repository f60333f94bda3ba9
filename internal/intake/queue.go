package intake

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded FIFO of file paths with many producers and one
// consumer. Close wakes a consumer blocked in Pop.
type Queue struct {
	mu     sync.Mutex
	items  []string
	closed bool
	wake   chan struct{}
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push appends path. It reports false once the queue is closed.
func (q *Queue) Push(path string) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, path)
	q.mu.Unlock()
	q.signal()
	return true
}

// Pop waits up to timeout for the next path. ok is false when the wait timed
// out. The error is ErrQueueClosed after Close, or the context error.
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (path string, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			path = q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return path, true, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return "", false, ErrQueueClosed
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			return "", false, nil
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// SeenSet holds the names of files that are queued or being handled, so the
// watcher does not enqueue them twice.
type SeenSet struct {
	mu    sync.Mutex
	names map[string]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{names: make(map[string]struct{})}
}

// Add reports whether name was not already present.
func (s *SeenSet) Add(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return false
	}
	s.names[name] = struct{}{}
	return true
}

func (s *SeenSet) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, name)
}

func (s *SeenSet) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[name]
	return ok
}

func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

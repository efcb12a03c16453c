package callsession

import (
	"context"
	"sync"
	"time"
)

// persistQueue runs jobs one at a time in push order on its own goroutine.
// push never blocks.
type persistQueue struct {
	timeout time.Duration

	mu     sync.Mutex
	jobs   []func(ctx context.Context)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newPersistQueue(timeout time.Duration) *persistQueue {
	q := &persistQueue{
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *persistQueue) push(job func(ctx context.Context)) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting jobs and waits for queued ones to finish.
func (q *persistQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *persistQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		job(ctx)
		cancel()
	}
}

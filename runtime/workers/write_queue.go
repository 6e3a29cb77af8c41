package workers

import (
	"context"
	"sync"
)

// writeQueue hands jobs from the event sequence to a single writer goroutine.
// push never blocks, so the sequence cannot stall behind a slow store.
type writeQueue struct {
	mu     sync.Mutex
	jobs   []job
	notify chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{notify: make(chan struct{}, 1)}
}

func (q *writeQueue) push(j job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *writeQueue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return job{}, false
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, true
}

// run executes jobs in order until ctx is done and reports each result.
func (q *writeQueue) run(ctx context.Context, write func(context.Context, job) completion, done chan<- completion) {
	for {
		j, ok := q.pop()
		if !ok {
			select {
			case <-q.notify:
				continue
			case <-ctx.Done():
				return
			}
		}
		c := write(ctx, j)
		select {
		case done <- c:
		case <-ctx.Done():
			return
		}
	}
}

// Package results carries job results from compute backends to a listener
// on a single delivery goroutine.
package results

import (
	"log/slog"
	"sync"

	"poolnet"
)

const DefaultCapacity = 256

// Queue buffers results and delivers them in order. Submit never blocks:
// results beyond capacity are dropped and counted.
type Queue struct {
	log *slog.Logger
	in  chan poolnet.JobResult

	mu       sync.Mutex
	listener poolnet.ResultListener
	stopped  bool
	dropped  uint64

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{
		log:  slog.With("component", "results"),
		in:   make(chan poolnet.JobResult, capacity),
		done: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.deliver()
	return q
}

// SetListener sets the receiver of future deliveries. Results queued with
// no listener are discarded on delivery.
func (q *Queue) SetListener(l poolnet.ResultListener) {
	q.mu.Lock()
	q.listener = l
	q.mu.Unlock()
}

// OnJobResult implements poolnet.ResultListener so backends can submit
// directly.
func (q *Queue) OnJobResult(r poolnet.JobResult) { q.Submit(r) }

// Submit enqueues r. It reports false if r was dropped.
func (q *Queue) Submit(r poolnet.JobResult) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return false
	}
	select {
	case q.in <- r:
		return true
	default:
		q.dropped++
		q.log.Warn("result queue full, dropping result", "job", r.JobID, "dropped", q.dropped)
		return false
	}
}

// Dropped returns how many results were discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Stop rejects further submissions, discards undelivered results and waits
// for an in-progress delivery to return.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		close(q.done)
	})
	q.wg.Wait()
}

func (q *Queue) deliver() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case r := <-q.in:
			q.mu.Lock()
			l := q.listener
			stopped := q.stopped
			q.mu.Unlock()
			if stopped {
				return
			}
			if l != nil {
				l.OnJobResult(r)
			}
		}
	}
}

var _ poolnet.ResultListener = (*Queue)(nil)

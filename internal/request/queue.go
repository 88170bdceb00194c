package request

import (
	"errors"
	"sync"

	"github.com/rcrowley/go-metrics"
)

// ErrQueueShutdown is returned when enqueueing after shutdown.
var ErrQueueShutdown = errors.New("request queue shut down")

// Queue is the shared FIFO of pending requests. All peer sessions consume
// from the same queue; each takes only requests targeting its own peer, in
// enqueue order. All mutation is serialised under the queue mutex.
type Queue struct {
	mu   sync.Mutex
	reqs []*Request
	open bool

	enqueued metrics.Counter
}

// NewQueue creates an open queue.
func NewQueue() *Queue {
	return &Queue{
		open:     true,
		enqueued: metrics.NewCounter(),
	}
}

// Enqueue appends a request.
func (q *Queue) Enqueue(r *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.open {
		return ErrQueueShutdown
	}
	q.reqs = append(q.reqs, r)
	q.enqueued.Inc(1)
	return nil
}

// NextMatching detaches and returns the earliest request whose target is t,
// or nil.
func (q *Queue) NextMatching(t Target) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.reqs {
		if r.Target == t {
			q.reqs = append(q.reqs[:i], q.reqs[i+1:]...)
			return r
		}
	}
	return nil
}

// Peek returns the head of the queue without detaching it, or nil.
func (q *Queue) Peek() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.reqs) == 0 {
		return nil
	}
	return q.reqs[0]
}

// DrainFor fails and removes every queued request targeting t. Sessions
// call this during teardown so waiters never hang on a dead peer.
func (q *Queue) DrainFor(t Target) {
	q.mu.Lock()
	var drained []*Request
	kept := q.reqs[:0]
	for _, r := range q.reqs {
		if r.Target == t {
			drained = append(drained, r)
		} else {
			kept = append(kept, r)
		}
	}
	q.reqs = kept
	q.mu.Unlock()

	for _, r := range drained {
		r.Resolve(Failed)
	}
}

// Shutdown closes the queue and fails everything still pending.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.open = false
	pending := q.reqs
	q.reqs = nil
	q.mu.Unlock()

	for _, r := range pending {
		r.Resolve(Failed)
	}
}

// Len returns the number of queued requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reqs)
}

// Enqueued returns the number of requests ever enqueued.
func (q *Queue) Enqueued() int64 { return q.enqueued.Count() }

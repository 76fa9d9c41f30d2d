package cleanup

import "time"

// Queue is a fixed-capacity multi-producer/multi-consumer buffer of cleanup
// tasks. Enqueue never blocks; a full queue is reported to the caller so the
// overload policy can decide. Dequeue may suspend a consumer up to a bounded
// wait.
type Queue struct {
	ch chan *Task
}

// NewQueue creates a queue holding up to capacity tasks.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *Task, capacity)}
}

// TryEnqueue offers a task without blocking. Returns false when full.
func (q *Queue) TryEnqueue(t *Task) bool {
	select {
	case q.ch <- t:
		return true
	default:
		return false
	}
}

// TryDequeue takes a task without blocking.
func (q *Queue) TryDequeue() (*Task, bool) {
	select {
	case t := <-q.ch:
		return t, true
	default:
		return nil, false
	}
}

// Dequeue waits up to wait for a task. A false return means the wait elapsed
// with the queue empty.
func (q *Queue) Dequeue(wait time.Duration) (*Task, bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case t := <-q.ch:
		return t, true
	case <-timer.C:
		return nil, false
	}
}

// Len returns the current occupancy.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

package search

import (
	"sync"

	"microblog_bot/internal/model"
)

// Job is one post waiting for search matching
type Job struct {
	Post model.Post
	// Mentioned holds the usernames already reached via the mention channel
	Mentioned []string
}

type itemKind int

const (
	itemPost itemKind = iota
	itemStop
)

// item is the queue element: Post(job) | Stop
type item struct {
	kind itemKind
	job  Job
}

// queue is an unbounded FIFO for many producers and one consumer
type queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []item
	stopped bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a post unless the stop sentinel was already queued
func (q *queue) push(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return false
	}
	q.items = append(q.items, item{kind: itemPost, job: job})
	q.cond.Signal()
	return true
}

// stop queues the sentinel once
func (q *queue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	q.items = append(q.items, item{kind: itemStop})
	q.cond.Signal()
}

// pop blocks until an item is available
func (q *queue) pop() item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.cond.Wait()
	}
	it := q.items[0]
	q.items[0] = item{}
	q.items = q.items[1:]
	return it
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Package undo is the Undo Scheduler (C9): a single-consumer min-heap of
// deadlined undo actions. Producers enqueue; the consumer fires each
// entry at or after its deadline, and on shutdown drains the remaining
// queue synchronously, ignoring deadlines, firing all of it in priority
// (deadline) order before returning (§4.5, §8 invariants 4 and 10).
package undo

import (
	"container/heap"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/ais-netlab/chaos/cmn/nlog"
)

// Entry is a single deferred inverse action.
type Entry struct {
	ID       string
	Deadline time.Time
	Action   func(args any) error
	Args     any
}

// pqueue implements container/heap.Interface ordered by Deadline ascending.
type pqueue []*Entry

func (q pqueue) Len() int            { return len(q) }
func (q pqueue) Less(i, j int) bool  { return q[i].Deadline.Before(q[j].Deadline) }
func (q pqueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pqueue) Push(x any)         { *q = append(*q, x.(*Entry)) }
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

// Scheduler runs the single consumer loop described in §4.5.
type Scheduler struct {
	mu       sync.Mutex
	q        pqueue
	notify   chan struct{}
	done     chan struct{}
	draining bool
	// Depth is read by the /metrics gauge for undo-queue depth.
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		q:      pqueue{},
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue adds an undo entry with the given deadline. duration == 0 (an
// irreversible event) must never reach here; callers check that before
// calling Enqueue.
func (s *Scheduler) Enqueue(deadline time.Time, action func(args any) error, args any) string {
	id, err := shortid.Generate()
	if err != nil {
		id = deadline.String() // degrade gracefully; uniqueness isn't load-bearing for logging
	}
	e := &Entry{ID: id, Deadline: deadline, Action: action, Args: args}

	s.mu.Lock()
	if s.draining {
		// shutdown already drained the queue; fire inline rather than
		// enqueue into a heap nothing will ever pop again.
		s.mu.Unlock()
		s.fire(e)
		return id
	}
	heap.Push(&s.q, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return id
}

// Depth returns the number of pending undo entries.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Len()
}

// Run is the consumer loop; it returns when shutdownCh is closed and the
// queue has been drained. Exceptions in an action are logged and do not
// stop the loop (§4.5, §7).
func (s *Scheduler) Run(shutdownCh <-chan struct{}) {
	for {
		select {
		case <-shutdownCh:
			s.drain()
			return
		default:
		}

		s.mu.Lock()
		var head *Entry
		if s.q.Len() > 0 {
			head = s.q[0]
		}
		s.mu.Unlock()

		if head == nil {
			select {
			case <-s.notify:
			case <-shutdownCh:
				s.drain()
				return
			case <-time.After(time.Second):
			}
			continue
		}

		wait := time.Until(head.Deadline)
		if wait > time.Second {
			wait = time.Second
		}
		if wait > 0 {
			select {
			case <-shutdownCh:
				s.drain()
				return
			case <-time.After(wait):
			case <-s.notify:
			}
			continue
		}

		s.mu.Lock()
		var popped *Entry
		if s.q.Len() > 0 && s.q[0] == head {
			popped = heap.Pop(&s.q).(*Entry)
		}
		s.mu.Unlock()

		if popped != nil {
			s.fire(popped)
		}
	}
}

// drain fires every remaining entry immediately, in deadline order,
// ignoring deadlines entirely - the shutdown path (§4.5, §8 boundary 10).
func (s *Scheduler) drain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.q.Len() == 0 {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.q).(*Entry)
		s.mu.Unlock()
		s.fire(e)
	}
}

func (s *Scheduler) fire(e *Entry) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("undo %s panicked: %v", e.ID, r)
		}
	}()
	if err := e.Action(e.Args); err != nil {
		nlog.Errorf("undo %s failed: %v", e.ID, err)
	}
}

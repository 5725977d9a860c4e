// Package linklock is the Link Mutex Table (C6): per directed link, a
// coarse-grained "in_use" lock with non-blocking tryacquire and a
// fine-grained, blocking "modify" lock. The total order in_use < modify
// (modify acquired after in_use, released before it) and the rule that
// no producer holds locks for more than one link at a time together
// give deadlock-freedom (§4.1).
package linklock

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// locks is the pair of locks for one directed link.
type locks struct {
	inUse  *semaphore.Weighted // coarse-grained, tryacquire only
	modify sync.Mutex          // fine-grained, blocking
}

// Table is keyed by directed link id (topo.LinkID(src, dst)).
type Table struct {
	mu    sync.Mutex
	byID  map[uint64]*locks
}

func NewTable() *Table {
	return &Table{byID: make(map[uint64]*locks)}
}

func (t *Table) entry(id uint64) *locks {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byID[id]
	if !ok {
		e = &locks{inUse: semaphore.NewWeighted(1)}
		t.byID[id] = e
	}
	return e
}

// TryInUse attempts to acquire the in_use lock for id without blocking;
// returns false if another reversible long-running event already holds
// it (§8 invariant 2).
func (t *Table) TryInUse(id uint64) bool {
	return t.entry(id).inUse.TryAcquire(1)
}

// ReleaseInUse releases the in_use lock for id.
func (t *Table) ReleaseInUse(id uint64) {
	t.entry(id).inUse.Release(1)
}

// EnterModify blocks until the modify lock for id is acquired.
func (t *Table) EnterModify(id uint64) {
	t.entry(id).modify.Lock()
}

// LeaveModify releases the modify lock for id.
func (t *Table) LeaveModify(id uint64) {
	t.entry(id).modify.Unlock()
}

// WithModify runs fn with the modify lock for id held across the whole
// call, guaranteeing release on every return path (panics included) -
// the scoped-acquisition pattern §7 requires of every mutator.
func (t *Table) WithModify(id uint64, fn func() error) error {
	t.EnterModify(id)
	defer t.LeaveModify(id)
	return fn()
}

// WithInUse runs fn only if the in_use lock for id is free; it acquires
// it, runs fn, and leaves it held on success for the caller to release
// later (the lock must outlive a single call since it spans a whole
// reversible event, possibly ending in a scheduled undo). If fn returns
// an error, the lock is released immediately so a failed acquisition
// attempt never leaks it. ok is false if the lock was already held.
func (t *Table) WithInUse(id uint64, fn func() error) (ok bool, err error) {
	if !t.TryInUse(id) {
		return false, nil
	}
	if err := fn(); err != nil {
		t.ReleaseInUse(id)
		return true, err
	}
	return true, nil
}

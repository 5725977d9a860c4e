// Package portpool is the Port Pool (C8): a bounded set of transport
// ports leased for a duration and auto-returned by a per-lease timer.
package portpool

import (
	"sync"
	"time"
)

// Pool is a fixed [start, end] set of ports, popped LIFO under a lock.
type Pool struct {
	mu   sync.Mutex
	free []int

	// afterFunc defaults to time.AfterFunc; overridable in tests so the
	// auto-return path can be driven synchronously instead of waiting on
	// a real timer.
	afterFunc func(time.Duration, func()) *time.Timer
}

// New creates a pool covering [start, end] inclusive.
func New(start, end int) *Pool {
	free := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		free = append(free, p)
	}
	return &Pool{free: free, afterFunc: time.AfterFunc}
}

// Lease pops one free port and schedules its automatic return after
// duration, per §4.8. Returns ok=false if the pool is drained; callers
// (the background traffic producer) must skip the iteration rather than
// block (§8 boundary 9).
func (p *Pool) Lease(duration time.Duration) (port int, ok bool) {
	p.mu.Lock()
	if len(p.free) == 0 {
		p.mu.Unlock()
		return 0, false
	}
	port = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.mu.Unlock()

	p.afterFunc(duration, func() { p.Return(port) })
	return port, true
}

// Return pushes port back onto the free list.
func (p *Pool) Return(port int) {
	p.mu.Lock()
	p.free = append(p.free, port)
	p.mu.Unlock()
}

// Available reports how many ports are currently free, for the
// port-pool occupancy metric.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Package mono provides a monotonic clock wrapper so the producers'
// interval math (sleepInterruptible, ComplexLossOnLink) never observes a
// wall-clock step.
package mono

import "time"

// start anchors NanoTime; time.Since(start) reads the monotonic clock
// component that time.Now() carries.
var start = time.Now()

// NanoTime returns a monotonic-clock reading (nanoseconds since process
// start) suitable for deadline arithmetic. Wrapping it keeps call sites
// free of direct time.Now() usage so the clock source has one choke point.
func NanoTime() int64 { return int64(time.Since(start)) }

// Since returns the monotonic duration elapsed since t (as returned by
// NanoTime).
func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }

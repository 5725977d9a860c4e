package undo_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ais-netlab/chaos/undo"
)

func TestFiresAtOrAfterDeadlineNeverEarly(t *testing.T) {
	s := undo.NewScheduler()
	shutdown := make(chan struct{})
	defer close(shutdown)
	go s.Run(shutdown)

	start := time.Now()
	fired := make(chan time.Time, 1)
	s.Enqueue(start.Add(100*time.Millisecond), func(any) error {
		fired <- time.Now()
		return nil
	}, nil)

	select {
	case at := <-fired:
		require.True(t, !at.Before(start.Add(100*time.Millisecond)), "undo fired before its deadline")
	case <-time.After(2 * time.Second):
		t.Fatal("undo never fired")
	}
}

func TestDrainFiresAllPendingInPriorityOrderOnShutdown(t *testing.T) {
	s := undo.NewScheduler()
	shutdown := make(chan struct{})

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)

	now := time.Now()
	s.Enqueue(now.Add(300*time.Second), func(any) error {
		defer wg.Done()
		mu.Lock()
		order = append(order, 3)
		mu.Unlock()
		return nil
	}, nil)
	s.Enqueue(now.Add(60*time.Second), func(any) error {
		defer wg.Done()
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return nil
	}, nil)
	s.Enqueue(now.Add(120*time.Second), func(any) error {
		defer wg.Done()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		return nil
	}, nil)

	done := make(chan struct{})
	go func() {
		s.Run(shutdown)
		close(done)
	}()

	close(shutdown)

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()

	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown drain did not fire all pending undos")
	}
	<-done

	require.Equal(t, []int{1, 2, 3}, order, "drain must fire in deadline order regardless of wall-clock deadlines")
}

func TestActionErrorDoesNotStopTheLoop(t *testing.T) {
	s := undo.NewScheduler()
	shutdown := make(chan struct{})
	defer close(shutdown)
	go s.Run(shutdown)

	now := time.Now()
	s.Enqueue(now.Add(10*time.Millisecond), func(any) error {
		return assertErr{}
	}, nil)

	second := make(chan struct{}, 1)
	s.Enqueue(now.Add(50*time.Millisecond), func(any) error {
		second <- struct{}{}
		return nil
	}, nil)

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("a failing undo action must not stop the scheduler loop")
	}
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

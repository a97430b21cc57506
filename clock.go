package alarm

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Clock is the time source of a Manager. Replacing it with a FakeClock makes
// the scheduler fully deterministic in tests.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// Timer is the subset of time.Timer the scheduler needs.
type Timer interface {
	// C returns the channel on which the timer fires.
	C() <-chan time.Time
	// Stop prevents the Timer from firing. Returns true if the call stops
	// the timer, false if the timer has already expired or been stopped.
	Stop() bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// NewTimer wraps time.NewTimer.
func (RealClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

type realTimer struct{ t *time.Timer }

func (r realTimer) C() <-chan time.Time { return r.t.C }
func (r realTimer) Stop() bool          { return r.t.Stop() }

// FakeClock is a manually driven Clock. Time only moves on Set and Advance,
// which fire every timer whose deadline has been reached.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	timers  fakeTimerQueue
	waiters []chan struct{}
}

// NewFakeClock returns a FakeClock reading t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

// Now returns the fake clock's current time.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTimer creates a timer that fires once the clock reaches now+d.
// A non-positive d fires immediately and never counts as waiting.
func (f *FakeClock) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTimer{
		clock:    f,
		deadline: f.now.Add(d),
		ch:       make(chan time.Time, 1),
		index:    -1,
	}
	if d <= 0 {
		t.ch <- f.now
		return t
	}
	heap.Push(&f.timers, t)
	for _, w := range f.waiters {
		close(w)
	}
	f.waiters = nil
	return t
}

// Set moves the clock to t and fires the timers that are due.
func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
	f.fireDue()
}

// Advance moves the clock forward by d and fires the timers that are due.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.fireDue()
}

// BlockUntil blocks until at least n timers are waiting on the clock.
func (f *FakeClock) BlockUntil(n int) {
	_ = f.BlockUntilContext(context.Background(), n)
}

// BlockUntilContext is BlockUntil with cancellation. It returns ctx.Err()
// if ctx ends first.
func (f *FakeClock) BlockUntilContext(ctx context.Context, n int) error {
	for {
		f.mu.Lock()
		if len(f.timers) >= n {
			f.mu.Unlock()
			return nil
		}
		w := make(chan struct{})
		f.waiters = append(f.waiters, w)
		f.mu.Unlock()

		select {
		case <-w:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TimerCount returns the number of timers waiting on the clock.
func (f *FakeClock) TimerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// NextDeadline returns the earliest waiting timer's deadline.
func (f *FakeClock) NextDeadline() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.timers) == 0 {
		return time.Time{}, false
	}
	return f.timers[0].deadline, true
}

// fireDue must be called with f.mu held.
func (f *FakeClock) fireDue() {
	for len(f.timers) > 0 && !f.timers[0].deadline.After(f.now) {
		t := heap.Pop(&f.timers).(*fakeTimer) //nolint:forcetypeassert // heap holds *fakeTimer only
		select {
		case t.ch <- f.now:
		default:
		}
	}
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	ch       chan time.Time
	index    int // position in the clock's queue, -1 if not queued
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.clock.timers, t.index)
	return true
}

// fakeTimerQueue is a min-heap of timers ordered by deadline.
type fakeTimerQueue []*fakeTimer

func (q fakeTimerQueue) Len() int           { return len(q) }
func (q fakeTimerQueue) Less(i, j int) bool { return q[i].deadline.Before(q[j].deadline) }

func (q fakeTimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *fakeTimerQueue) Push(x any) {
	t := x.(*fakeTimer) //nolint:forcetypeassert // heap.Interface contract
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *fakeTimerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

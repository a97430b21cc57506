package alarm

import "sync/atomic"

// DefaultPoolSize is the number of idle objects a Pool keeps by default.
const DefaultPoolSize = 1024

// Pool is a bounded free list of reusable objects. Get falls back to the
// constructor when the list is empty and Put drops the object when the list
// is full, so neither call ever blocks.
//
// Unlike sync.Pool, idle objects are not released by the garbage collector
// and the hit rate is observable through Stats.
type Pool[T any] struct {
	free    chan T
	newFn   func() T
	hits    atomic.Uint64
	misses  atomic.Uint64
	dropped atomic.Uint64
}

// PoolStats is a snapshot of a Pool's counters.
type PoolStats struct {
	Idle    int    // objects currently held
	Hits    uint64 // Gets served from the free list
	Misses  uint64 // Gets that called the constructor
	Dropped uint64 // Puts discarded because the list was full
}

// NewPool returns a Pool that keeps up to size idle objects. A size of zero
// or less disables retention.
func NewPool[T any](size int, newFn func() T) *Pool[T] {
	if size < 0 {
		size = 0
	}
	return &Pool[T]{
		free:  make(chan T, size),
		newFn: newFn,
	}
}

// Get returns an idle object or a new one.
func (p *Pool[T]) Get() T {
	select {
	case v := <-p.free:
		p.hits.Add(1)
		return v
	default:
		p.misses.Add(1)
		return p.newFn()
	}
}

// Put returns v to the pool. The caller must not use v afterwards.
func (p *Pool[T]) Put(v T) {
	select {
	case p.free <- v:
	default:
		p.dropped.Add(1)
	}
}

// Stats returns the pool's counters.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Idle:    len(p.free),
		Hits:    p.hits.Load(),
		Misses:  p.misses.Load(),
		Dropped: p.dropped.Load(),
	}
}

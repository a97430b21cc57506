package alarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Manager runs one scheduler goroutine that fires alarms registered from any
// number of goroutines. Alarms whose tolerance windows overlap are delivered
// together in one wakeup, and alarms of the same Group are delivered to their
// GroupListener as a single batch.
//
// Two lists hold registered alarms: the pending list, ordered by target time,
// and the firing list, which accumulates the batch being assembled. Each has
// its own mutex; when both are needed the firing list is locked first.
// Listeners are always invoked with neither held.
type Manager struct {
	clock              Clock
	logger             Logger
	hooks              *Hooks
	parent             context.Context
	poolSize           int
	scanLimit          int
	defaultPercentLate int

	epoch time.Time

	firingMu sync.Mutex
	firing   *firingList

	pendingMu sync.Mutex
	pending   *pendingList
	wake      instant        // planned wakeup, meaningful when state is SchedulerArmed
	state     SchedulerState // guarded by pendingMu

	pool *Pool[*alarm]
	seq  atomic.Uint64

	kick      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the scheduler goroutine.
	batch  []*alarm
	seen   map[*Group]struct{}
	groups []*Group

	wakeups        atomic.Uint64
	batches        atomic.Uint64
	fired          atomic.Uint64
	discarded      atomic.Uint64
	listenerPanics atomic.Uint64
}

// Stats is a point-in-time snapshot of a Manager.
type Stats struct {
	State          SchedulerState
	Pending        int    // alarms in the pending list, canceled ones included
	Firing         int    // alarms in the batch being assembled
	Wakeups        uint64 // scheduler passes
	Batches        uint64 // batches delivered
	Fired          uint64 // alarms delivered to a listener
	Discarded      uint64 // canceled alarms dropped by the scheduler
	ListenerPanics uint64
	Pool           PoolStats
}

// New returns a Manager, modified by the given options, and starts its
// scheduler goroutine.
//
// Available Settings
//
//	Clock
//	  Description: Time source for deadlines and sleeping.
//	  Default:     RealClock
//
//	Logger
//	  Description: Receives overflow rejections, listener panics and lifecycle messages.
//	  Default:     DefaultLogger (errors to stdout)
//
//	Pool size
//	  Description: Idle alarms kept for reuse.
//	  Default:     DefaultPoolSize
//
// See "alarm.With*" to modify the default behavior.
func New(opts ...Option) *Manager {
	m := &Manager{
		clock:              RealClock{},
		logger:             DefaultLogger,
		poolSize:           DefaultPoolSize,
		scanLimit:          DefaultInsertScanLimit,
		defaultPercentLate: DefaultPercentLate,
		kick:               make(chan struct{}, 1),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
		seen:               make(map[*Group]struct{}),
		state:              SchedulerSuspended,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.epoch = m.clock.Now()
	m.pending = newPendingList(m.scanLimit)
	m.firing = newFiringList()
	m.pool = NewPool(m.poolSize, func() *alarm { return new(alarm) })

	go m.run()
	if m.parent != nil {
		go m.watch(m.parent)
	}
	return m
}

// Create registers l to be called with ctx once, no earlier than delay from
// now and no later than delay*percentLate/100 after that. Within that window
// the call may be deferred so that it shares a wakeup with other alarms.
//
// Returns an error wrapping ErrInvalidDelay or ErrInvalidPercentLate for
// negative arguments, ErrDeadlineOverflow when the window cannot be
// represented, ErrNilListener, or ErrClosed after Close.
func (m *Manager) Create(delay time.Duration, percentLate int, l Listener, ctx any) (Handle, error) {
	if l == nil {
		return Handle{}, ErrNilListener
	}
	return m.schedule(delay, percentLate, directTarget(l), ctx)
}

// CreateGrouped is Create for an alarm delivered through g's GroupListener.
func (m *Manager) CreateGrouped(delay time.Duration, percentLate int, g *Group, ctx any) (Handle, error) {
	if g == nil || g.listener == nil {
		return Handle{}, ErrNilListener
	}
	return m.schedule(delay, percentLate, groupTarget(g), ctx)
}

// After is Create with the Manager's default percent-late tolerance.
func (m *Manager) After(delay time.Duration, l Listener, ctx any) (Handle, error) {
	return m.Create(delay, m.defaultPercentLate, l, ctx)
}

func (m *Manager) schedule(delay time.Duration, percentLate int, cb target, ctx any) (Handle, error) {
	tgt, latest, err := deadlines(m.now(), delay, percentLate)
	if err != nil {
		if errors.Is(err, ErrDeadlineOverflow) {
			m.logger.Error(err, "alarm rejected", "delay", delay, "percent_late", percentLate)
		}
		return Handle{}, fmt.Errorf("create alarm (delay %v, percent late %d): %w", delay, percentLate, err)
	}

	a := m.pool.Get()
	seq := m.seq.Add(1)
	a.arm(seq, tgt, latest, cb, ctx)

	m.pendingMu.Lock()
	if m.state == SchedulerFinished {
		m.pendingMu.Unlock()
		a.take()
		m.pool.Put(a)
		return Handle{}, ErrClosed
	}
	m.pending.Insert(a)
	kick := m.state == SchedulerSuspended || tgt < m.wake
	if kick {
		m.wake = tgt
		m.state = SchedulerArmed
	}
	m.pendingMu.Unlock()

	if kick {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
	return Handle{a: a, seq: seq}, nil
}

// CancelAll cancels every alarm that has not started firing and returns how
// many were still active. Both lists are replaced before any cancellation is
// processed, so registrations made concurrently go into the new lists and are
// unaffected. Group listeners are notified without any lock held.
func (m *Manager) CancelAll() int {
	m.firingMu.Lock()
	m.pendingMu.Lock()
	oldPending, oldFiring := m.pending, m.firing
	m.pending = newPendingList(m.scanLimit)
	m.firing = newFiringList()
	if m.state != SchedulerFinished {
		m.state = SchedulerSuspended
	}
	m.pendingMu.Unlock()
	m.firingMu.Unlock()

	alarms := append(oldFiring.TakeAll(nil), oldPending.Drain()...)
	n := 0
	for _, a := range alarms {
		if g, ctx, ok := a.cancelCurrent(); ok {
			n++
			if g != nil {
				m.invoke(func() { g.listener.GroupAlarmCanceled(ctx) })
			}
		}
		m.pool.Put(a)
	}
	if n > 0 {
		m.logger.Info("cancel all", "canceled", n)
	}
	return n
}

// Close stops the scheduler goroutine and waits for it to exit. Alarms that
// have not fired are dropped without notification and later registrations
// fail with ErrClosed. Close is idempotent. It must not be called from a
// listener, since it waits for the goroutine that runs listeners.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.pendingMu.Lock()
		m.state = SchedulerFinished
		m.pendingMu.Unlock()
		close(m.stop)
	})
	<-m.done
}

// Done returns a channel that is closed once the scheduler goroutine has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// State returns the scheduler's current state.
func (m *Manager) State() SchedulerState {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return m.state
}

// Stats returns a snapshot of the Manager's counters.
func (m *Manager) Stats() Stats {
	m.firingMu.Lock()
	firing := m.firing.Len()
	m.pendingMu.Lock()
	pending := m.pending.Len()
	state := m.state
	m.pendingMu.Unlock()
	m.firingMu.Unlock()

	return Stats{
		State:          state,
		Pending:        pending,
		Firing:         firing,
		Wakeups:        m.wakeups.Load(),
		Batches:        m.batches.Load(),
		Fired:          m.fired.Load(),
		Discarded:      m.discarded.Load(),
		ListenerPanics: m.listenerPanics.Load(),
		Pool:           m.pool.Stats(),
	}
}

// now returns the clock reading relative to the Manager's epoch.
func (m *Manager) now() instant {
	return instant(m.clock.Now().Sub(m.epoch))
}

// timeAt converts an instant back to wall time.
func (m *Manager) timeAt(i instant) time.Time {
	return m.epoch.Add(time.Duration(i))
}

package alarm

import (
	"context"
	"time"
)

// SchedulerState is the state of a Manager's scheduler goroutine.
type SchedulerState int32

const (
	// SchedulerSuspended means no alarm is pending; the goroutine waits
	// until a registration or shutdown wakes it.
	SchedulerSuspended SchedulerState = iota
	// SchedulerArmed means the goroutine sleeps until the planned wakeup.
	SchedulerArmed
	// SchedulerFinished is terminal and only entered through Close.
	SchedulerFinished
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerSuspended:
		return "suspended"
	case SchedulerArmed:
		return "armed"
	case SchedulerFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// run is the scheduler goroutine. It sleeps until the planned wakeup, or
// until kicked by a registration that moved the wakeup earlier. An early
// wake only recomputes the remaining delay; the firing pass runs once the
// planned time has been reached. The timer is kept across wakes as long as
// the planned wakeup does not change.
func (m *Manager) run() {
	defer close(m.done)
	m.logger.Info("start")

	var timer Timer
	var timerAt instant
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}

	for {
		// A kick sent before this point is reflected in planned().
		select {
		case <-m.kick:
		default:
		}
		now := m.now()
		wake, state := m.planned()

		switch {
		case state == SchedulerFinished:
			stopTimer()
			m.logger.Info("stop")
			return
		case state == SchedulerArmed && now >= wake:
			stopTimer()
			m.pass(now)
			continue
		case state != SchedulerArmed || wake != timerAt:
			stopTimer()
		}

		var timeout <-chan time.Time
		if state == SchedulerArmed {
			if timer == nil {
				timer = m.clock.NewTimer(time.Duration(wake - now))
				timerAt = wake
			}
			timeout = timer.C()
		}

		select {
		case <-timeout:
			timer = nil
		case <-m.kick:
		case <-m.stop:
		}
	}
}

// planned returns the planned wakeup and the scheduler state.
func (m *Manager) planned() (instant, SchedulerState) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return m.wake, m.state
}

// pass runs one firing pass. A panic here is a bug in the scheduler itself,
// not in a listener; it is logged and the wakeup is replanned so the
// goroutine keeps serving the remaining alarms.
func (m *Manager) pass(now instant) {
	if perr := safeExecute(func() { m.fire(now) }); perr != nil {
		m.logger.Error(perr, "scheduler pass panicked", "stack", string(perr.Stack))
		m.replan()
	}
}

// replan recomputes the wakeup from the current lists.
func (m *Manager) replan() {
	m.firingMu.Lock()
	defer m.firingMu.Unlock()
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	deadline, batching := m.firing.Deadline()
	m.replanLocked(batching, deadline)
}

// replanLocked must be called with both list mutexes held. The batch
// deadline takes precedence: any pending alarm due before it has already
// joined the batch.
func (m *Manager) replanLocked(batching bool, deadline instant) {
	if m.state == SchedulerFinished {
		return
	}
	switch {
	case batching:
		m.wake, m.state = deadline, SchedulerArmed
	case m.pending.Len() > 0:
		m.wake, m.state = m.pending.Peek().target, SchedulerArmed
	default:
		m.state = SchedulerSuspended
	}
}

// watch closes the Manager when the parent context ends.
func (m *Manager) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
		m.logger.Info("context done", "cause", context.Cause(ctx))
		m.Close()
	case <-m.done:
	}
}

package alarm

import (
	"fmt"
	"time"
)

// fire runs one pass of the firing algorithm at now: collect due alarms into
// the batch and, once the batch deadline is reached, deliver it.
func (m *Manager) fire(now instant) {
	m.wakeups.Add(1)
	pending, deadline, ready := m.collect(now)
	runHook(m.logger, "OnWake", func() { m.hooks.callOnWake(m.timeAt(now), pending) })
	if ready {
		m.deliver(now, deadline)
	}
}

// collect moves alarms from the front of the pending list into the batch.
// An alarm joins when it is due, or when a batch is already being assembled
// and the alarm will be due by the batch deadline. Alarms canceled while
// pending are discarded here. If the deadline has been reached the batch is
// taken out of the firing list into m.batch and ready is true.
//
// The wakeup is replanned before the locks are released so that a
// concurrent registration cannot be overwritten.
func (m *Manager) collect(now instant) (pending int, deadline instant, ready bool) {
	m.firingMu.Lock()
	defer m.firingMu.Unlock()
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	pending = m.pending.Len()
	for a := m.pending.Peek(); a != nil; a = m.pending.Peek() {
		d, batching := m.firing.Deadline()
		if a.target > now && (!batching || a.target > d) {
			break
		}
		m.pending.Pop()
		if !a.isActive() {
			m.discarded.Add(1)
			continue
		}
		m.firing.Add(a)
	}

	deadline, batching := m.firing.Deadline()
	if batching && now >= deadline {
		m.batch = m.firing.TakeAll(m.batch[:0])
		ready = true
		batching = false
	}
	m.replanLocked(batching, deadline)
	return pending, deadline, ready
}

// deliver invokes the listeners of m.batch in order. Direct listeners get
// their own call. A group listener gets BeginGroupAlarm for its first
// member, AddContext for the others and, after the whole batch, a single
// GroupAlarm. No lock is held.
//
// Alarms still active are marked fired and returned to the pool. An alarm
// canceled after it joined the batch is discarded rather than pooled, since
// the canceling goroutine may still be touching it.
func (m *Manager) deliver(now, deadline instant) {
	clear(m.seen)
	size := 0
	for i, a := range m.batch {
		m.batch[i] = nil
		cb, ctx, ok := a.take()
		if !ok {
			m.discarded.Add(1)
			continue
		}
		m.pool.Put(a)
		size++

		switch cb.kind {
		case targetDirect:
			l := cb.direct
			m.invoke(func() { l.Alarm(ctx) })
		case targetGroup:
			g := cb.group
			if _, ok := m.seen[g]; !ok {
				m.seen[g] = struct{}{}
				m.groups = append(m.groups, g)
				m.invoke(func() { g.listener.BeginGroupAlarm(ctx) })
			} else {
				m.invoke(func() { g.listener.AddContext(ctx) })
			}
		}
	}
	m.batch = m.batch[:0]

	groups := len(m.groups)
	for i, g := range m.groups {
		m.invoke(func() { g.listener.GroupAlarm() })
		m.groups[i] = nil
	}
	m.groups = m.groups[:0]

	m.batches.Add(1)
	m.fired.Add(uint64(size))
	runHook(m.logger, "OnBatch", func() { m.hooks.callOnBatch(size, groups, time.Duration(now-deadline)) })
}

// invoke calls fn, isolating a panic so that one listener cannot take down
// the scheduler or the rest of the batch.
func (m *Manager) invoke(fn func()) {
	perr := safeExecute(fn)
	if perr == nil {
		return
	}
	m.listenerPanics.Add(1)
	m.logger.Error(perr, "alarm listener panicked",
		"panic_type", fmt.Sprintf("%T", perr.Value),
		"stack", string(perr.Stack))
	runHook(m.logger, "OnListenerPanic", func() { m.hooks.callOnListenerPanic(perr) })
}

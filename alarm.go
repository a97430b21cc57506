package alarm

import (
	"sync"
	"time"
)

// instant is a point in time expressed as nanoseconds since a Manager's epoch.
type instant int64

// alarm is one scheduled callback. Instances are recycled through the
// Manager's pool; seq changes every time an instance is reused so that a
// Handle from an earlier life can no longer reach it.
type alarm struct {
	mu     sync.Mutex
	target instant
	latest instant
	seq    uint64
	active bool
	cb     target
	ctx    any
}

// arm prepares a pooled or new alarm for a fresh registration.
func (a *alarm) arm(seq uint64, tgt, latest instant, cb target, ctx any) {
	a.mu.Lock()
	a.seq = seq
	a.target = tgt
	a.latest = latest
	a.cb = cb
	a.ctx = ctx
	a.active = true
	a.mu.Unlock()
}

// take marks the alarm as fired and returns its callback. It reports false
// when the alarm was canceled first.
func (a *alarm) take() (target, any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return target{}, nil, false
	}
	cb, ctx := a.cb, a.ctx
	a.active = false
	a.cb = target{}
	a.ctx = nil
	return cb, ctx, true
}

// cancel deactivates the alarm if seq still matches its current life. For a
// grouped alarm the group and context are returned so the caller can notify
// the group listener once the lock is released.
func (a *alarm) cancel(seq uint64) (g *Group, ctx any, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seq != seq {
		return nil, nil, false
	}
	return a.cancelLocked()
}

// cancelCurrent cancels whatever registration the alarm currently holds. Only
// the Manager uses it, for alarms it has already unlinked from both lists.
func (a *alarm) cancelCurrent() (g *Group, ctx any, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelLocked()
}

func (a *alarm) cancelLocked() (g *Group, ctx any, ok bool) {
	if !a.active {
		return nil, nil, false
	}
	if a.cb.kind == targetGroup {
		g, ctx = a.cb.group, a.ctx
	}
	a.active = false
	a.cb = target{}
	a.ctx = nil
	return g, ctx, true
}

func (a *alarm) isActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Handle refers to one registration made with Manager.Create or
// Manager.CreateGrouped. The zero Handle is valid and refers to nothing.
// Handles are small values and may be copied freely.
type Handle struct {
	a   *alarm
	seq uint64
}

// Cancel stops the alarm from firing. It reports whether the call canceled an
// alarm that was still pending; canceling a fired, canceled or zero Handle
// does nothing.
//
// Canceling a grouped alarm calls GroupAlarmCanceled on the group listener
// with the alarm's context. A firing that has already reached its listener
// is not undone.
func (h Handle) Cancel() bool {
	if h.a == nil {
		return false
	}
	g, ctx, ok := h.a.cancel(h.seq)
	if g != nil {
		g.listener.GroupAlarmCanceled(ctx)
	}
	return ok
}

// cancelSilently cancels without notifying a group listener. It is used by
// the group's owner, which already knows about the cancellation.
func (h Handle) cancelSilently() bool {
	if h.a == nil {
		return false
	}
	_, _, ok := h.a.cancel(h.seq)
	return ok
}

// Active reports whether the alarm is still waiting to fire.
func (h Handle) Active() bool {
	if h.a == nil {
		return false
	}
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	return h.a.seq == h.seq && h.a.active
}

// Seq returns the registration's sequence number. Sequence numbers increase
// monotonically per Manager and are useful when debugging ordering.
func (h Handle) Seq() uint64 { return h.seq }

// deadlines computes target and latest for a registration made at now.
// Both additions are checked so that an unrepresentable deadline is reported
// instead of wrapping around.
func deadlines(now instant, delay time.Duration, percentLate int) (tgt, latest instant, err error) {
	if delay < 0 {
		return 0, 0, ErrInvalidDelay
	}
	if percentLate < 0 {
		return 0, 0, ErrInvalidPercentLate
	}
	const maxInstant = instant(1<<63 - 1)
	d := instant(delay)
	if now > maxInstant-d {
		return 0, 0, ErrDeadlineOverflow
	}
	tgt = now + d
	if tgt < 0 {
		return 0, 0, ErrDeadlineOverflow
	}
	var slack instant
	if percentLate > 0 && d > 0 {
		p := instant(percentLate)
		if d > maxInstant/p {
			return 0, 0, ErrDeadlineOverflow
		}
		slack = d * p / 100
	}
	if tgt > maxInstant-slack {
		return 0, 0, ErrDeadlineOverflow
	}
	return tgt, tgt + slack, nil
}

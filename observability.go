package alarm

import "time"

// Hooks provides callbacks for monitoring a Manager.
// All callbacks are optional; nil callbacks are safely ignored.
//
// Hooks run synchronously on the scheduler goroutine, so implementations
// should be lightweight or dispatch to a separate goroutine. A panicking hook
// is logged and does not affect delivery.
//
// Example with Prometheus:
//
//	hooks := alarm.Hooks{
//	    OnBatch: func(size, groups int, lateness time.Duration) {
//	        batchSize.Observe(float64(size))
//	        batchLateness.Observe(lateness.Seconds())
//	    },
//	}
//	m := alarm.New(alarm.WithHooks(hooks))
type Hooks struct {
	// OnWake is called every time the scheduler wakes up to do work.
	//   - now: the clock reading at wakeup
	//   - pending: alarms waiting in the pending list at that moment
	OnWake func(now time.Time, pending int)

	// OnBatch is called after a batch has been delivered.
	//   - size: alarms in the batch, canceled ones excluded
	//   - groups: distinct group listeners notified
	//   - lateness: how far past the batch deadline delivery started
	OnBatch func(size, groups int, lateness time.Duration)

	// OnListenerPanic is called when a listener or group listener panics.
	OnListenerPanic func(err *PanicError)
}

// runHook calls fn and logs a panic instead of propagating it. Hooks run
// after the scheduler has committed to the work they report on.
func runHook(logger Logger, name string, fn func()) {
	if perr := safeExecute(fn); perr != nil {
		logger.Error(perr, "hook panicked", "hook", name, "stack", string(perr.Stack))
	}
}

func (h *Hooks) callOnWake(now time.Time, pending int) {
	if h != nil && h.OnWake != nil {
		h.OnWake(now, pending)
	}
}

func (h *Hooks) callOnBatch(size, groups int, lateness time.Duration) {
	if h != nil && h.OnBatch != nil {
		h.OnBatch(size, groups, lateness)
	}
}

func (h *Hooks) callOnListenerPanic(err *PanicError) {
	if h != nil && h.OnListenerPanic != nil {
		h.OnListenerPanic(err)
	}
}

// TimeoutHooks provides callbacks for monitoring a TimeoutManager.
type TimeoutHooks struct {
	// OnBatch is called after each processed batch with its size and the
	// processor's error, nil on success.
	OnBatch func(group GroupID, size int, err error)

	// OnEscalation is called whenever the failure state changes.
	OnEscalation func(group GroupID, from, to EscalationState)
}

func (h *TimeoutHooks) callOnBatch(group GroupID, size int, err error) {
	if h != nil && h.OnBatch != nil {
		h.OnBatch(group, size, err)
	}
}

func (h *TimeoutHooks) callOnEscalation(group GroupID, from, to EscalationState) {
	if h != nil && h.OnEscalation != nil && from != to {
		h.OnEscalation(group, from, to)
	}
}

package alarm

import (
	"fmt"
	"sync"
	"time"
)

// Processor handles the entries of a TimeoutManager that timed out together.
// A returned error or a panic counts as a failed batch.
type Processor interface {
	ProcessTimedOut(entries []TimeoutEntry) error
}

// ProcessorFunc adapts a func to the Processor interface.
type ProcessorFunc func(entries []TimeoutEntry) error

// ProcessTimedOut calls f(entries).
func (f ProcessorFunc) ProcessTimedOut(entries []TimeoutEntry) error { return f(entries) }

// TimeoutOption configures a TimeoutManager.
type TimeoutOption func(*TimeoutManager)

// WithTimeoutLogger overrides the logger, which defaults to the Manager's.
func WithTimeoutLogger(logger Logger) TimeoutOption {
	return func(tm *TimeoutManager) {
		tm.logger = logger
	}
}

// WithTimeoutHooks configures observability hooks.
func WithTimeoutHooks(hooks TimeoutHooks) TimeoutOption {
	return func(tm *TimeoutManager) {
		tm.hooks = &hooks
	}
}

// TimeoutManager delivers recurring timeouts for a dynamic set of entries.
// Every active entry gets its own alarm, repeating every interval. All of
// them belong to the manager's Group, so entries whose alarms come due in the
// same window reach the Processor as one batch. After a batch is processed
// its entries are re-armed automatically.
//
// The tolerance window is derived from the number of buckets: the interval
// is split into numBuckets-1 buckets and an alarm may fire up to one bucket
// late. More buckets mean tighter timing and more wakeups; fewer buckets
// mean more batching.
//
// A failing Processor is handled as described on EscalationState.
type TimeoutManager struct {
	am        *Manager
	group     *Group
	processor Processor
	logger    Logger
	hooks     *TimeoutHooks

	// mu guards the arena, the timing parameters and the lifecycle flags.
	mu          sync.Mutex
	nodes       *nodeArena
	numBuckets  int
	interval    time.Duration
	percentLate int
	started     bool
	closed      bool
	state       EscalationState

	// batchMu guards only the accumulator of the batch being delivered.
	batchMu sync.Mutex
	batch   []nodeRef
}

// NewTimeoutManager returns a stopped TimeoutManager scheduling on am, with
// entries as its initial active set. Call StartTimer to begin.
func NewTimeoutManager(
	am *Manager,
	numBuckets int,
	interval time.Duration,
	entries []TimeoutEntry,
	p Processor,
	opts ...TimeoutOption,
) (*TimeoutManager, error) {
	switch {
	case am == nil:
		return nil, ErrNilManager
	case numBuckets <= 1:
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBuckets, numBuckets)
	case interval <= 0:
		return nil, fmt.Errorf("%w: got %v", ErrInvalidInterval, interval)
	case p == nil:
		return nil, ErrNilProcessor
	}

	tm := &TimeoutManager{
		am:         am,
		processor:  p,
		logger:     am.logger,
		nodes:      newNodeArena(),
		numBuckets: numBuckets,
		interval:   interval,
	}
	tm.percentLate = bucketPercentLate(numBuckets, interval)
	tm.group = NewGroup(timeoutListener{tm})
	for _, opt := range opts {
		opt(tm)
	}
	for _, e := range entries {
		tm.addLocked(e)
	}
	return tm, nil
}

// bucketPercentLate returns one bucket's width as a percentage of interval.
func bucketPercentLate(numBuckets int, interval time.Duration) int {
	bucket := interval / time.Duration(numBuckets-1)
	return int(float64(bucket) * 100 / float64(interval))
}

// GroupID returns the identifier shared by all alarms of this manager.
func (tm *TimeoutManager) GroupID() GroupID { return tm.group.ID() }

// AddTimeoutEntry makes e active. If the timer is running an alarm is armed
// for e right away. Adding an entry that is already active does nothing.
func (tm *TimeoutManager) AddTimeoutEntry(e TimeoutEntry) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return ErrClosed
	}
	tm.addLocked(e)
	return nil
}

func (tm *TimeoutManager) addLocked(e TimeoutEntry) {
	slot := e.TimeoutSlot()
	if slot.Active() {
		return
	}
	ref, n := tm.nodes.insert(e)
	slot.ref.Store(uint64(ref))
	if tm.started {
		tm.armLocked(ref, n)
	}
}

// RemoveTimeoutEntry deactivates e and cancels its alarm. The alarms of
// other entries are unaffected. It reports whether e was active.
func (tm *TimeoutManager) RemoveTimeoutEntry(e TimeoutEntry) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.removeLocked(e)
}

func (tm *TimeoutManager) removeLocked(e TimeoutEntry) bool {
	if tm.closed {
		return false
	}
	slot := e.TimeoutSlot()
	ref := nodeRef(slot.ref.Load())
	n := tm.nodes.lookup(ref, e)
	if n == nil {
		return false
	}
	n.alarm.cancelSilently()
	tm.nodes.remove(ref)
	slot.ref.Store(0)
	return true
}

// UpdateTimeout changes the interval used for alarms armed from now on.
// Alarms already armed keep their deadlines.
func (tm *TimeoutManager) UpdateTimeout(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidInterval, interval)
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.interval = interval
	tm.percentLate = bucketPercentLate(tm.numBuckets, interval)
	return nil
}

// Interval returns the current interval and the percent-late derived from it.
func (tm *TimeoutManager) Interval() (time.Duration, int) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.interval, tm.percentLate
}

// StartTimer arms an alarm for every active entry. It does nothing if the
// timer is already running, was halted by repeated failures, or the manager
// is closed.
func (tm *TimeoutManager) StartTimer() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.started || tm.closed || tm.state == EscalationHalted {
		return
	}
	tm.started = true
	tm.nodes.each(tm.armLocked)
}

// StopTimer cancels every entry's alarm. The entries stay active and are
// re-armed by the next StartTimer. It does nothing if the timer is not running.
func (tm *TimeoutManager) StopTimer() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopLocked()
}

func (tm *TimeoutManager) stopLocked() {
	if !tm.started {
		return
	}
	tm.started = false
	tm.nodes.each(func(_ nodeRef, n *timeoutNode) {
		n.alarm.cancelSilently()
		n.alarm = Handle{}
	})
}

// Started reports whether the timer is running.
func (tm *TimeoutManager) Started() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.started
}

// State returns the failure escalation state.
func (tm *TimeoutManager) State() EscalationState {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.state
}

// ActiveEntries returns the number of active entries.
func (tm *TimeoutManager) ActiveEntries() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.nodes.Len()
}

// Close stops the timer and releases the active set; every entry becomes
// inactive. The manager cannot be reused.
func (tm *TimeoutManager) Close() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.closed {
		return
	}
	tm.stopLocked()
	tm.nodes.each(func(_ nodeRef, n *timeoutNode) {
		n.entry.TimeoutSlot().ref.Store(0)
	})
	tm.nodes = newNodeArena()
	tm.closed = true
}

// Cancel calls CancelTimeout on every active entry. The entries are
// collected under the lock and notified after it is released.
func (tm *TimeoutManager) Cancel() {
	for _, e := range tm.snapshot() {
		if perr := safeExecute(e.CancelTimeout); perr != nil {
			tm.logger.Error(perr, "timeout entry cancel panicked",
				"group", tm.group.ID(), "stack", string(perr.Stack))
		}
	}
}

// DriveAllActiveEntries hands the whole active set to the Processor once,
// on the calling goroutine, independently of the timer. It returns the
// Processor's error; the outcome does not affect the escalation state.
func (tm *TimeoutManager) DriveAllActiveEntries() error {
	entries := tm.snapshot()
	if len(entries) == 0 {
		return nil
	}
	return tm.process(entries)
}

func (tm *TimeoutManager) snapshot() []TimeoutEntry {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	entries := make([]TimeoutEntry, 0, tm.nodes.Len())
	tm.nodes.each(func(_ nodeRef, n *timeoutNode) {
		entries = append(entries, n.entry)
	})
	return entries
}

// process runs the Processor, turning a panic into an error.
func (tm *TimeoutManager) process(entries []TimeoutEntry) (err error) {
	if perr := safeExecute(func() { err = tm.processor.ProcessTimedOut(entries) }); perr != nil {
		return perr
	}
	return err
}

// armLocked schedules the next timeout of n. A registration error leaves
// the entry active but without an alarm; it is logged by the Manager.
func (tm *TimeoutManager) armLocked(ref nodeRef, n *timeoutNode) {
	h, err := tm.am.CreateGrouped(tm.interval, tm.percentLate, tm.group, ref)
	if err != nil {
		tm.logger.Error(err, "arm timeout", "group", tm.group.ID())
		return
	}
	n.alarm = h
}

// beginBatch starts a new batch with its first member.
func (tm *TimeoutManager) beginBatch(first any) {
	tm.batchMu.Lock()
	defer tm.batchMu.Unlock()
	tm.batch = tm.batch[:0]
	if r, ok := first.(nodeRef); ok {
		tm.batch = append(tm.batch, r)
	}
}

// addToBatch appends a further member to the current batch.
func (tm *TimeoutManager) addToBatch(next any) {
	tm.batchMu.Lock()
	defer tm.batchMu.Unlock()
	if r, ok := next.(nodeRef); ok {
		tm.batch = append(tm.batch, r)
	}
}

// endBatch processes the accumulated batch. The accumulator is swapped out
// first, so alarms that fire meanwhile start a batch of their own. The
// Processor runs without any lock held, so it may call back into the
// manager or take its own locks.
func (tm *TimeoutManager) endBatch() {
	tm.batchMu.Lock()
	refs := tm.batch
	tm.batch = nil
	tm.batchMu.Unlock()

	tm.mu.Lock()
	live := refs[:0]
	entries := make([]TimeoutEntry, 0, len(refs))
	for _, r := range refs {
		if n := tm.nodes.get(r); n != nil {
			live = append(live, r)
			entries = append(entries, n.entry)
		}
	}
	tm.mu.Unlock()
	if len(entries) == 0 {
		return
	}

	err := tm.process(entries)
	runHook(tm.logger, "OnBatch", func() { tm.hooks.callOnBatch(tm.group.ID(), len(entries), err) })

	tm.mu.Lock()
	from := tm.state
	to, action := from.next(err == nil)
	tm.state = to
	switch action {
	case actionRearm:
		tm.rearmLocked(live, entries)
	case actionPurge:
		for _, e := range entries {
			tm.removeLocked(e)
		}
	case actionHalt:
		tm.stopLocked()
	}
	tm.mu.Unlock()

	if err != nil {
		tm.logFailure(err, to, action, len(entries))
	}
	runHook(tm.logger, "OnEscalation", func() { tm.hooks.callOnEscalation(tm.group.ID(), from, to) })
}

// rearmLocked arms a new alarm for every batch member that is still active
// and does not already have a live alarm, for example because the timer was
// restarted while the batch was being processed.
func (tm *TimeoutManager) rearmLocked(refs []nodeRef, entries []TimeoutEntry) {
	if !tm.started {
		return
	}
	for i, r := range refs {
		n := tm.nodes.lookup(r, entries[i])
		if n == nil || n.alarm.Active() {
			continue
		}
		tm.armLocked(r, n)
	}
}

func (tm *TimeoutManager) logFailure(err error, state EscalationState, action escalationAction, size int) {
	var msg string
	switch action {
	case actionRearm:
		msg = "timeout batch failed, retrying"
	case actionPurge:
		msg = "timeout batch failed again, removing its entries"
	case actionHalt:
		msg = "timeout batch failed after entries were removed, stopping timer"
	default:
		msg = "timeout batch failed"
	}
	kv := []any{"group", tm.group.ID(), "entries", size, "state", state}
	if perr, ok := err.(*PanicError); ok {
		kv = append(kv, "stack", string(perr.Stack))
	}
	tm.logger.Error(err, msg, kv...)
}

// canceled clears the node's handle after its alarm was canceled by someone
// other than the manager, such as Manager.CancelAll. The entry stays active
// and is armed again by the next StartTimer after a StopTimer.
func (tm *TimeoutManager) canceled(ctx any) {
	r, ok := ctx.(nodeRef)
	if !ok {
		return
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if n := tm.nodes.get(r); n != nil && !n.alarm.Active() {
		n.alarm = Handle{}
		tm.logger.Info("timeout alarm canceled externally", "group", tm.group.ID())
	}
}

// timeoutListener is the GroupListener of a TimeoutManager's group.
type timeoutListener struct {
	tm *TimeoutManager
}

var _ GroupListener = timeoutListener{}

func (l timeoutListener) BeginGroupAlarm(first any)  { l.tm.beginBatch(first) }
func (l timeoutListener) AddContext(next any)        { l.tm.addToBatch(next) }
func (l timeoutListener) GroupAlarm()                { l.tm.endBatch() }
func (l timeoutListener) GroupAlarmCanceled(ctx any) { l.tm.canceled(ctx) }

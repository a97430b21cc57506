package alarm

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// batchRecorder is a Processor that reports every batch on a channel and
// returns whatever result currently holds.
type batchRecorder struct {
	mu      sync.Mutex
	result  func() error
	batches chan []string
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{batches: make(chan []string, 16)}
}

func (r *batchRecorder) fail(err error) {
	r.mu.Lock()
	r.result = func() error { return err }
	r.mu.Unlock()
}

func (r *batchRecorder) succeed() {
	r.mu.Lock()
	r.result = nil
	r.mu.Unlock()
}

func (r *batchRecorder) ProcessTimedOut(entries []TimeoutEntry) error {
	r.batches <- entryNames(entries)
	r.mu.Lock()
	result := r.result
	r.mu.Unlock()
	if result != nil {
		return result()
	}
	return nil
}

func (r *batchRecorder) next(t *testing.T) []string {
	t.Helper()
	select {
	case b := <-r.batches:
		return b
	case <-time.After(testWait):
		t.Fatal("no batch processed")
		return nil
	}
}

func entryNames(entries []TimeoutEntry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.(*testEntry).name
	}
	return names
}

func makeEntries(n int) ([]*testEntry, []TimeoutEntry) {
	es := make([]*testEntry, n)
	ts := make([]TimeoutEntry, n)
	for i := range es {
		es[i] = &testEntry{name: fmt.Sprintf("e%d", i)}
		ts[i] = es[i]
	}
	return es, ts
}

func names(es ...*testEntry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.name
	}
	return out
}

func newTestTimeoutManager(t *testing.T, m *Manager, entries []TimeoutEntry, p Processor, opts ...TimeoutOption) *TimeoutManager {
	t.Helper()
	tm, err := NewTimeoutManager(m, 5, time.Second, entries, p, opts...)
	require.NoError(t, err)
	t.Cleanup(tm.Close)
	return tm
}

func TestNewTimeoutManagerValidation(t *testing.T) {
	m, _ := newTestManager(t)
	p := newBatchRecorder()

	_, err := NewTimeoutManager(nil, 5, time.Second, nil, p)
	assert.ErrorIs(t, err, ErrNilManager)

	_, err = NewTimeoutManager(m, 1, time.Second, nil, p)
	assert.ErrorIs(t, err, ErrInvalidBuckets)

	_, err = NewTimeoutManager(m, 5, 0, nil, p)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = NewTimeoutManager(m, 5, time.Second, nil, nil)
	assert.ErrorIs(t, err, ErrNilProcessor)
}

func TestBucketPercentLate(t *testing.T) {
	assert.Equal(t, 25, bucketPercentLate(5, time.Second))
	assert.Equal(t, 100, bucketPercentLate(2, time.Second))
	assert.Equal(t, 50, bucketPercentLate(3, time.Second))
	assert.Equal(t, 33, bucketPercentLate(4, time.Second))
}

// TestTimeoutEntriesRearmEveryCycle uses 5 buckets of a 1s interval, so
// every timeout may be up to 250ms late.
func TestTimeoutEntriesRearmEveryCycle(t *testing.T) {
	m, clock := newTestManager(t)
	p := newBatchRecorder()
	es, entries := makeEntries(10)
	tm := newTestTimeoutManager(t, m, entries, p)

	assert.False(t, tm.Started())
	assert.Equal(t, 10, tm.ActiveEntries())
	tm.StartTimer()
	assert.True(t, tm.Started())

	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	assert.Equal(t, names(es...), p.next(t))

	advanceTo(t, clock, 2250*time.Millisecond)
	advanceTo(t, clock, 2500*time.Millisecond)
	assert.Equal(t, names(es...), p.next(t))

	assert.Equal(t, EscalationNominal, tm.State())
	assert.Equal(t, 10, tm.ActiveEntries())
}

func TestTimeoutThreeStrikeEscalation(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	m, clock := newTestManager(t)
	p := newBatchRecorder()
	p.fail(errors.New("downstream unavailable"))
	es, entries := makeEntries(2)
	tm := newTestTimeoutManager(t, m, entries, p, WithTimeoutHooks(TimeoutHooks{
		OnEscalation: func(_ GroupID, from, to EscalationState) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	}))
	tm.StartTimer()

	// First failure: the batch is re-armed anyway.
	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	assert.Equal(t, names(es...), p.next(t))
	require.Eventually(t, func() bool { return tm.State() == EscalationFailedOnce }, testWait, time.Millisecond)

	// Second failure: the batch's entries are removed.
	advanceTo(t, clock, 2250*time.Millisecond)
	advanceTo(t, clock, 2500*time.Millisecond)
	assert.Equal(t, names(es...), p.next(t))
	require.Eventually(t, func() bool { return tm.State() == EscalationCleared }, testWait, time.Millisecond)
	assert.Equal(t, 0, tm.ActiveEntries())
	for _, e := range es {
		assert.False(t, e.TimeoutSlot().Active())
	}
	assert.True(t, tm.Started())

	// Third failure with no success in between: the timer stops for good.
	late := &testEntry{name: "late"}
	require.NoError(t, tm.AddTimeoutEntry(late))
	advanceTo(t, clock, 3500*time.Millisecond)
	advanceTo(t, clock, 3750*time.Millisecond)
	assert.Equal(t, []string{"late"}, p.next(t))
	require.Eventually(t, func() bool { return tm.State() == EscalationHalted }, testWait, time.Millisecond)
	assert.False(t, tm.Started())

	tm.StartTimer()
	assert.False(t, tm.Started(), "a halted timer cannot be restarted")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"nominal->failed-once", "failed-once->cleared", "cleared->halted"}, transitions)
}

func TestTimeoutSuccessResetsEscalation(t *testing.T) {
	m, clock := newTestManager(t)
	p := newBatchRecorder()
	p.fail(errors.New("transient"))
	_, entries := makeEntries(1)
	tm := newTestTimeoutManager(t, m, entries, p)
	tm.StartTimer()

	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	p.next(t)
	require.Eventually(t, func() bool { return tm.State() == EscalationFailedOnce }, testWait, time.Millisecond)

	p.succeed()
	advanceTo(t, clock, 2250*time.Millisecond)
	advanceTo(t, clock, 2500*time.Millisecond)
	p.next(t)
	require.Eventually(t, func() bool { return tm.State() == EscalationNominal }, testWait, time.Millisecond)
	assert.Equal(t, 1, tm.ActiveEntries())
}

func TestTimeoutProcessorPanicCountsAsFailure(t *testing.T) {
	var batchErr error
	var mu sync.Mutex
	m, clock := newTestManager(t)
	done := make(chan struct{}, 1)
	_, entries := makeEntries(1)
	tm := newTestTimeoutManager(t, m, entries,
		ProcessorFunc(func([]TimeoutEntry) error { panic("processor bug") }),
		WithTimeoutHooks(TimeoutHooks{
			OnBatch: func(_ GroupID, _ int, err error) {
				mu.Lock()
				batchErr = err
				mu.Unlock()
				done <- struct{}{}
			},
		}))
	tm.StartTimer()

	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	<-done

	mu.Lock()
	var perr *PanicError
	assert.ErrorAs(t, batchErr, &perr)
	mu.Unlock()
	require.Eventually(t, func() bool { return tm.State() == EscalationFailedOnce }, testWait, time.Millisecond)
	assert.Equal(t, uint64(0), m.Stats().ListenerPanics)
}

func TestTimeoutPanickingHooksKeepEntriesArmed(t *testing.T) {
	logger, logs := newObservedLogger()
	m, clock := newTestManager(t)
	p := newBatchRecorder()
	p.fail(errors.New("transient"))
	es, entries := makeEntries(2)
	tm := newTestTimeoutManager(t, m, entries, p,
		WithTimeoutLogger(logger),
		WithTimeoutHooks(TimeoutHooks{
			OnBatch:      func(GroupID, int, error) { panic("batch hook") },
			OnEscalation: func(GroupID, EscalationState, EscalationState) { panic("escalation hook") },
		}))
	tm.StartTimer()

	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	assert.Equal(t, names(es...), p.next(t))
	require.Eventually(t, func() bool { return tm.State() == EscalationFailedOnce }, testWait, time.Millisecond)

	// The failed batch was re-armed despite both hooks panicking.
	p.succeed()
	advanceTo(t, clock, 2250*time.Millisecond)
	advanceTo(t, clock, 2500*time.Millisecond)
	assert.Equal(t, names(es...), p.next(t))
	require.Eventually(t, func() bool { return tm.State() == EscalationNominal }, testWait, time.Millisecond)
	assert.Equal(t, 2, tm.ActiveEntries())

	require.Eventually(t, func() bool {
		return logs.FilterField(zap.String("hook", "OnEscalation")).Len() == 2
	}, testWait, time.Millisecond)
	assert.Equal(t, 2, logs.FilterField(zap.String("hook", "OnBatch")).Len())
	assert.Equal(t, uint64(0), m.Stats().ListenerPanics)
}

func TestTimeoutStartStopIdempotent(t *testing.T) {
	m, clock := newTestManager(t)
	p := newBatchRecorder()
	es, entries := makeEntries(3)
	tm := newTestTimeoutManager(t, m, entries, p)

	tm.StopTimer() // not started, no-op
	tm.StartTimer()
	tm.StartTimer()
	assert.Equal(t, 3, m.Stats().Pending)

	tm.StopTimer()
	tm.StopTimer()
	assert.False(t, tm.Started())
	assert.Equal(t, 3, tm.ActiveEntries(), "stopping keeps the entries")

	tm.StartTimer()
	assert.Equal(t, 6, m.Stats().Pending, "3 canceled and 3 live alarms")

	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	assert.Equal(t, names(es...), p.next(t))
	assert.Equal(t, uint64(3), m.Stats().Discarded)
}

func TestTimeoutAddAndRemoveEntries(t *testing.T) {
	m, clock := newTestManager(t)
	p := newBatchRecorder()
	es, entries := makeEntries(3)
	tm := newTestTimeoutManager(t, m, entries, p)

	require.NoError(t, tm.AddTimeoutEntry(es[0]), "re-adding an active entry is a no-op")
	assert.Equal(t, 3, tm.ActiveEntries())

	tm.StartTimer()
	assert.True(t, tm.RemoveTimeoutEntry(es[1]))
	assert.False(t, tm.RemoveTimeoutEntry(es[1]))
	assert.False(t, es[1].TimeoutSlot().Active())
	assert.Equal(t, 2, tm.ActiveEntries())

	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	assert.Equal(t, names(es[0], es[2]), p.next(t))

	// A removed entry can come back; it is armed from the current time.
	require.Eventually(t, func() bool { return m.Stats().Pending == 2 }, testWait, time.Millisecond)
	require.NoError(t, tm.AddTimeoutEntry(es[1]))
	assert.True(t, es[1].TimeoutSlot().Active())

	advanceTo(t, clock, 2250*time.Millisecond)
	advanceTo(t, clock, 2500*time.Millisecond)
	assert.Equal(t, names(es[0], es[2], es[1]), p.next(t))
}

// TestTimeoutRemoveDuringProcessing removes an entry from inside the
// Processor; it must not be re-armed.
func TestTimeoutRemoveDuringProcessing(t *testing.T) {
	m, clock := newTestManager(t)
	es, entries := makeEntries(2)
	batches := make(chan []string, 4)
	var tm *TimeoutManager
	tm = newTestTimeoutManager(t, m, entries, ProcessorFunc(func(batch []TimeoutEntry) error {
		tm.RemoveTimeoutEntry(es[0])
		batches <- entryNames(batch)
		return nil
	}))
	tm.StartTimer()

	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	assert.Equal(t, names(es...), <-batches)

	advanceTo(t, clock, 2250*time.Millisecond)
	advanceTo(t, clock, 2500*time.Millisecond)
	assert.Equal(t, names(es[1]), <-batches)
}

func TestTimeoutCancel(t *testing.T) {
	m, _ := newTestManager(t)
	es, entries := makeEntries(3)
	panicky := &panickingEntry{}
	entries = append(entries, panicky)
	tm := newTestTimeoutManager(t, m, entries, newBatchRecorder())

	require.NotPanics(t, tm.Cancel)
	for _, e := range es {
		assert.Equal(t, 1, e.canceled)
	}
	assert.True(t, panicky.called)
	assert.Equal(t, 4, tm.ActiveEntries(), "Cancel notifies entries but keeps them")
}

type panickingEntry struct {
	BaseEntry
	called bool
}

func (e *panickingEntry) CancelTimeout() {
	e.called = true
	panic("cancel failed")
}

func TestTimeoutDriveAllActiveEntries(t *testing.T) {
	m, _ := newTestManager(t)
	p := newBatchRecorder()
	es, entries := makeEntries(3)
	tm := newTestTimeoutManager(t, m, entries, p)

	require.NoError(t, tm.DriveAllActiveEntries())
	assert.Equal(t, names(es...), p.next(t))

	p.fail(errors.New("nope"))
	assert.EqualError(t, tm.DriveAllActiveEntries(), "nope")
	p.next(t)
	assert.Equal(t, EscalationNominal, tm.State(), "driving does not escalate")

	empty := newTestTimeoutManager(t, m, nil, p)
	assert.NoError(t, empty.DriveAllActiveEntries())
}

func TestTimeoutUpdateTimeout(t *testing.T) {
	m, clock := newTestManager(t)
	p := newBatchRecorder()
	_, entries := makeEntries(1)
	tm := newTestTimeoutManager(t, m, entries, p)

	assert.ErrorIs(t, tm.UpdateTimeout(0), ErrInvalidInterval)
	require.NoError(t, tm.UpdateTimeout(2*time.Second))
	interval, pct := tm.Interval()
	assert.Equal(t, 2*time.Second, interval)
	assert.Equal(t, 25, pct)

	tm.StartTimer()
	advanceTo(t, clock, 2*time.Second)
	advanceTo(t, clock, 2500*time.Millisecond)
	p.next(t)
}

// TestTimeoutExternalCancelAll cancels the manager's alarms behind its back;
// the entries stay active and a restart arms them again.
func TestTimeoutExternalCancelAll(t *testing.T) {
	m, clock := newTestManager(t)
	p := newBatchRecorder()
	es, entries := makeEntries(2)
	tm := newTestTimeoutManager(t, m, entries, p)
	tm.StartTimer()

	assert.Equal(t, 2, m.CancelAll())
	assert.Equal(t, 2, tm.ActiveEntries())

	tm.StopTimer()
	tm.StartTimer()

	advanceTo(t, clock, time.Second)
	advanceTo(t, clock, 1250*time.Millisecond)
	assert.Equal(t, names(es...), p.next(t))
}

func TestTimeoutClose(t *testing.T) {
	m, _ := newTestManager(t)
	es, entries := makeEntries(2)
	tm := newTestTimeoutManager(t, m, entries, newBatchRecorder())
	tm.StartTimer()

	tm.Close()
	tm.Close()
	assert.False(t, tm.Started())
	assert.Equal(t, 0, tm.ActiveEntries())
	for _, e := range es {
		assert.False(t, e.TimeoutSlot().Active())
	}
	assert.ErrorIs(t, tm.AddTimeoutEntry(es[0]), ErrClosed)
	assert.False(t, tm.RemoveTimeoutEntry(es[0]))

	tm.StartTimer()
	assert.False(t, tm.Started())
}

func TestTimeoutManagerGroupID(t *testing.T) {
	m, _ := newTestManager(t)
	a := newTestTimeoutManager(t, m, nil, newBatchRecorder())
	b := newTestTimeoutManager(t, m, nil, newBatchRecorder())
	assert.NotEqual(t, a.GroupID(), b.GroupID())
}

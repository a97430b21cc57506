/*
Package alarm implements a batched one-shot alarm scheduler and a recurring
timeout manager built on top of it.

# Installation

To download the package, run:

	go get github.com/netresearch/go-alarm

Import it in your program as:

	import "github.com/netresearch/go-alarm"

It requires Go 1.25 or later.

# Usage

A Manager runs a single scheduler goroutine. Alarms are registered from any
goroutine with a delay and a percent-late tolerance:

	m := alarm.New()
	defer m.Close()

	h, err := m.Create(100*time.Millisecond, 10, alarm.ListenerFunc(func(ctx any) {
		fmt.Println("fired:", ctx)
	}), "request-42")
	if err != nil {
		return err
	}
	..
	h.Cancel() // no effect if it already fired

The alarm above fires once, no earlier than 100ms and no later than 110ms
after the call to Create. Listeners run on the scheduler goroutine and must
not block.

# Batching

Every alarm has a target time (now + delay) and a latest time
(target + delay*percentLate/100). The scheduler wakes up at the earliest
target, then keeps collecting alarms whose targets fall before the earliest
latest time among those already collected, and delivers them all together at
that point. A larger tolerance means fewer wakeups; zero means every alarm
fires exactly at its target.

# Groups

Alarms created with CreateGrouped are delivered to a GroupListener as one
batch per wakeup: BeginGroupAlarm with the first context, AddContext for each
further context, then a single GroupAlarm.

	g := alarm.NewGroup(myGroupListener)
	m.CreateGrouped(time.Second, 20, g, conn1)
	m.CreateGrouped(time.Second, 20, g, conn2)

Canceling a grouped alarm through its Handle, or through Manager.CancelAll,
calls GroupAlarmCanceled with the alarm's context.

# Recurring timeouts

TimeoutManager keeps a recurring alarm for every active TimeoutEntry and
hands entries that time out together to a Processor:

	tm, err := alarm.NewTimeoutManager(m, 5, time.Second, nil,
		alarm.ProcessorFunc(func(entries []alarm.TimeoutEntry) error {
			for _, e := range entries {
				e.(*session).resend()
			}
			return nil
		}))
	tm.AddTimeoutEntry(s)
	tm.StartTimer()

Entries embed BaseEntry, or implement TimeoutSlot and CancelTimeout
themselves. After each batch the processed entries are armed again. A
Processor that keeps failing triggers the escalation described on
EscalationState.

# Thread Safety

Manager, Handle and TimeoutManager are safe for concurrent use. Listeners and
processors are called with no lock held, so they may create and cancel
alarms, or add and remove timeout entries, freely. The only call not allowed
from a listener is Manager.Close, which waits for the scheduler goroutine.

# Logging

The package defines a Logger interface that is a subset of the one defined in
github.com/go-logr/logr. Adapters are provided for the standard library
*log.Logger ([Verbose]PrintfLogger), log/slog (NewSlogLogger) and zap
(NewZapLogger):

	alarm.New(alarm.WithLogger(alarm.NewZapLogger(zap.S())))

Rejected registrations, listener and processor panics, and escalation steps
are logged as errors.

# Configuration

A Config can be loaded from YAML with LoadConfig and turned into options:

	cfg, err := alarm.LoadConfig("alarm.yaml")
	if err != nil {
		return err
	}
	m := alarm.New(cfg.Options()...)

# Observability Hooks

Hooks and TimeoutHooks expose wakeups, batches, listener panics and
escalation transitions as callbacks; Manager.Stats returns counters and the
pool's hit rate. A hook that panics is logged and skipped.

# Testing with FakeClock

FakeClock lets tests drive the scheduler deterministically:

	clock := alarm.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := alarm.New(alarm.WithClock(clock))
	m.Create(100*time.Millisecond, 0, listener, nil)
	clock.BlockUntil(1)                  // scheduler is waiting on its timer
	clock.Advance(100 * time.Millisecond) // alarm fires
*/
package alarm

package alarm_test

import (
	"fmt"
	"time"

	alarm "github.com/netresearch/go-alarm"
)

// This example registers a one-shot alarm and waits for it.
func Example() {
	m := alarm.New()
	defer m.Close()

	done := make(chan struct{})
	_, err := m.Create(10*time.Millisecond, 10, alarm.ListenerFunc(func(ctx any) {
		fmt.Println("fired:", ctx)
		close(done)
	}), "request-42")
	if err != nil {
		fmt.Println(err)
		return
	}

	<-done
	// Output: fired: request-42
}

// This example cancels an alarm before it fires.
func ExampleHandle_Cancel() {
	m := alarm.New()
	defer m.Close()

	h, _ := m.Create(time.Hour, 0, alarm.ListenerFunc(func(any) {
		fmt.Println("never printed")
	}), nil)

	fmt.Println(h.Cancel())
	fmt.Println(h.Cancel())
	// Output:
	// true
	// false
}

// This example drives the scheduler with a FakeClock. Both alarms fall into
// one tolerance window and are delivered together.
func ExampleWithClock() {
	clock := alarm.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := alarm.New(alarm.WithClock(clock), alarm.WithLogger(alarm.DiscardLogger))
	defer m.Close()

	done := make(chan struct{}, 2)
	l := alarm.ListenerFunc(func(ctx any) {
		fmt.Println(ctx, clock.Now().Format("15:04:05.000"))
		done <- struct{}{}
	})
	m.Create(100*time.Millisecond, 50, l, "a")
	m.Create(120*time.Millisecond, 10, l, "b")

	clock.BlockUntil(1)
	clock.Advance(100 * time.Millisecond) // both alarms join the batch
	clock.BlockUntil(1)
	clock.Advance(32 * time.Millisecond) // batch deadline
	<-done
	<-done
	// Output:
	// a 00:00:00.132
	// b 00:00:00.132
}

// This example sets up a TimeoutManager that processes idle sessions.
func ExampleNewTimeoutManager() {
	clock := alarm.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := alarm.New(alarm.WithClock(clock), alarm.WithLogger(alarm.DiscardLogger))
	defer m.Close()

	type session struct {
		alarm.BaseEntry
		id string
	}

	done := make(chan struct{})
	tm, err := alarm.NewTimeoutManager(m, 5, time.Second, nil,
		alarm.ProcessorFunc(func(entries []alarm.TimeoutEntry) error {
			for _, e := range entries {
				fmt.Println("timed out:", e.(*session).id)
			}
			close(done)
			return nil
		}))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer tm.Close()

	tm.AddTimeoutEntry(&session{id: "s1"})
	tm.AddTimeoutEntry(&session{id: "s2"})
	tm.StartTimer()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(250 * time.Millisecond)
	<-done
	// Output:
	// timed out: s1
	// timed out: s2
}

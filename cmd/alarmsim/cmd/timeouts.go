package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	alarm "github.com/netresearch/go-alarm"
)

var (
	// timeoutEntries is the number of simulated connections.
	timeoutEntries int
	// timeoutCycles is the number of batches to process before exiting.
	timeoutCycles int
	// timeoutFailEvery makes every n-th batch fail; zero never fails.
	timeoutFailEvery int
	// timeoutStagger spreads the registration of entries over this duration.
	timeoutStagger time.Duration

	timeoutsCmd = &cobra.Command{
		Use:   "timeouts",
		Short: "Run recurring timeouts for a set of simulated connections.",
		Long: `Registers simulated connections with a TimeoutManager using the bucket count
and interval from the configuration file, and processes their timeouts until the
requested number of batches has been handled.

With --fail-every the processor reports an error for every n-th batch, which
exercises the failure escalation: a single failure is retried, a second
consecutive failure drops the batch's entries, and a third stops the timer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return runTimeouts(ctx)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	timeoutsCmd.Flags().IntVarP(&timeoutEntries, "entries", "n", 100, "number of simulated connections")
	timeoutsCmd.Flags().IntVar(&timeoutCycles, "cycles", 5, "batches to process before exiting")
	timeoutsCmd.Flags().IntVar(&timeoutFailEvery, "fail-every", 0, "fail every n-th batch, 0 to never fail")
	timeoutsCmd.Flags().DurationVar(&timeoutStagger, "stagger", 0, "spread entry registration over this duration")
}

// connection is a simulated connection waiting for acknowledgements.
type connection struct {
	alarm.BaseEntry
	id int
}

var errSimulated = errors.New("simulated processor failure")

func runTimeouts(ctx context.Context) error {
	if timeoutEntries <= 0 || timeoutCycles <= 0 {
		return fmt.Errorf("entries and cycles must be positive")
	}

	m := newManager(alarm.WithContext(ctx))
	defer m.Close()

	// Owned by the scheduler goroutine until m is closed.
	batches, processed := 0, 0
	done := make(chan struct{})
	processor := alarm.ProcessorFunc(func(entries []alarm.TimeoutEntry) error {
		batches++
		processed += len(entries)
		if log.Level().Enabled(zapcore.DebugLevel) {
			ids := make([]int, len(entries))
			for i, e := range entries {
				ids[i] = e.(*connection).id //nolint:forcetypeassert // only connections are registered
			}
			log.Debugw("processing timeouts", "batch", batches, "connections", ids)
		}

		if batches == timeoutCycles {
			close(done)
		}
		if timeoutFailEvery > 0 && batches%timeoutFailEvery == 0 {
			return errSimulated
		}
		return nil
	})

	tm, err := alarm.NewTimeoutManager(m, cfg.Timeouts.Buckets, cfg.Timeouts.Interval, nil, processor,
		alarm.WithTimeoutHooks(alarm.TimeoutHooks{
			OnEscalation: func(group alarm.GroupID, from, to alarm.EscalationState) {
				log.Warnw("escalation", "group", group, "from", from, "to", to)
			},
		}))
	if err != nil {
		return fmt.Errorf("create timeout manager: %w", err)
	}
	defer tm.Close()

	_, percentLate := tm.Interval()
	log.Infow("starting timeouts",
		"entries", timeoutEntries,
		"buckets", cfg.Timeouts.Buckets,
		"interval", cfg.Timeouts.Interval,
		"percent_late", percentLate,
		"group", tm.GroupID(),
	)

	tm.StartTimer()
	conns := make([]*connection, timeoutEntries)
	for i := range conns {
		conns[i] = &connection{id: i}
		if err := tm.AddTimeoutEntry(conns[i]); err != nil {
			return fmt.Errorf("add connection %d: %w", i, err)
		}
		if timeoutStagger > 0 {
			time.Sleep(timeoutStagger / time.Duration(timeoutEntries))
		}
	}

	halted := time.NewTicker(cfg.Timeouts.Interval)
	defer halted.Stop()

wait:
	for {
		select {
		case <-done:
			break wait
		case <-ctx.Done():
			log.Warnw("interrupted")
			break wait
		case <-halted.C:
			if !tm.Started() {
				log.Warnw("timer halted", "state", tm.State())
				break wait
			}
		}
	}

	tm.StopTimer()
	m.Close()
	log.Infow("timeouts finished",
		"state", tm.State(),
		"active_entries", tm.ActiveEntries(),
		"batches", batches,
		"processed", processed,
	)
	reportStats(m)

	return nil
}

package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	alarm "github.com/netresearch/go-alarm"
)

var (
	// burstCount is the number of alarms to register.
	burstCount int
	// burstSpread is the range the alarm delays are drawn from.
	burstSpread time.Duration
	// burstPercentLate is the tolerance of every alarm; negative uses the configured default.
	burstPercentLate int
	// burstCancel is the fraction of alarms canceled right after registration.
	burstCancel float64

	burstCmd = &cobra.Command{
		Use:   "burst",
		Short: "Register a burst of one-shot alarms and wait for them.",
		Long: `Registers a number of one-shot alarms with delays spread uniformly over a
range, optionally cancels some of them, and waits until the rest have fired.

Raising --percent-late lets more alarms share a wakeup; compare the reported
wakeups and batches against the number of alarms.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return runBurst(ctx)
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	burstCmd.Flags().IntVarP(&burstCount, "count", "n", 1000, "number of alarms")
	burstCmd.Flags().DurationVar(&burstSpread, "spread", time.Second, "delays are drawn from [0, spread)")
	burstCmd.Flags().IntVarP(&burstPercentLate, "percent-late", "p", -1, "tolerance in percent of the delay, negative for the configured default")
	burstCmd.Flags().Float64Var(&burstCancel, "cancel", 0, "fraction of alarms to cancel before they fire")
}

func runBurst(ctx context.Context) error {
	if burstCount <= 0 || burstSpread <= 0 {
		return fmt.Errorf("count and spread must be positive")
	}

	percentLate := burstPercentLate
	if percentLate < 0 {
		percentLate = cfg.DefaultPercentLate
	}

	m := newManager(alarm.WithContext(ctx))
	defer m.Close()

	var fired, expected, maxLate atomic.Int64
	expected.Store(int64(burstCount))
	done := make(chan struct{})
	start := time.Now()

	for i := 0; i < burstCount; i++ {
		delay := rand.N(burstSpread)
		target := start.Add(delay)
		h, err := m.Create(delay, percentLate, alarm.ListenerFunc(func(any) {
			late := int64(time.Since(target))
			for {
				cur := maxLate.Load()
				if late <= cur || maxLate.CompareAndSwap(cur, late) {
					break
				}
			}
			if fired.Add(1) == expected.Load() {
				close(done)
			}
		}), i)
		if err != nil {
			return fmt.Errorf("register alarm %d: %w", i, err)
		}

		if rand.Float64() < burstCancel && h.Cancel() {
			expected.Add(-1)
		}
	}

	log.Infow("registered alarms", "count", burstCount, "spread", burstSpread, "percent_late", percentLate)

	// Alarms that fired during registration may already have passed the
	// final expected count.
	if fired.Load() < expected.Load() {
		select {
		case <-done:
		case <-ctx.Done():
			log.Warnw("interrupted", "fired", fired.Load(), "expected", expected.Load())
		}
	}

	log.Infow("burst finished",
		"elapsed", time.Since(start),
		"fired", fired.Load(),
		"max_lateness", time.Duration(maxLate.Load()),
	)
	reportStats(m)

	return nil
}

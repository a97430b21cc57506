package alarm

import "context"

// DefaultPercentLate is the tolerance used by Manager.After unless changed
// with WithDefaultPercentLate.
const DefaultPercentLate = 10

// Option represents a modification to the default behavior of a Manager.
type Option func(*Manager)

// WithClock uses the provided Clock instead of RealClock.
//
//	clock := alarm.NewFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
//	m := alarm.New(alarm.WithClock(clock))
//	m.Create(100*time.Millisecond, 10, listener, nil)
//	clock.BlockUntil(1)
//	clock.Advance(100 * time.Millisecond)
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithLogger uses the provided logger.
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithHooks configures observability hooks.
func WithHooks(hooks Hooks) Option {
	return func(m *Manager) {
		m.hooks = &hooks
	}
}

// WithPoolSize sets how many idle alarms the Manager keeps for reuse.
// Zero disables pooling.
func WithPoolSize(n int) Option {
	return func(m *Manager) {
		m.poolSize = n
	}
}

// WithInsertScanLimit sets how far an insertion scans back from the tail of
// the pending list before it switches to binary search.
func WithInsertScanLimit(n int) Option {
	return func(m *Manager) {
		m.scanLimit = n
	}
}

// WithDefaultPercentLate sets the tolerance used by Manager.After.
// Negative values are ignored.
func WithDefaultPercentLate(p int) Option {
	return func(m *Manager) {
		if p >= 0 {
			m.defaultPercentLate = p
		}
	}
}

// WithContext ties the scheduler's lifetime to ctx: when ctx is done the
// Manager shuts down as if Close had been called.
func WithContext(ctx context.Context) Option {
	return func(m *Manager) {
		m.parent = ctx
	}
}

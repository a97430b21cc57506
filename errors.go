package alarm

import "errors"

// ErrDeadlineOverflow is returned when the target or latest time of an alarm
// cannot be represented. The registration is rejected rather than scheduled
// at a wrapped-around time.
var ErrDeadlineOverflow = errors.New("alarm: deadline overflow")

// ErrInvalidDelay is returned when an alarm is requested with a negative delay.
var ErrInvalidDelay = errors.New("alarm: negative delay")

// ErrInvalidPercentLate is returned when an alarm is requested with a negative
// percent-late tolerance.
var ErrInvalidPercentLate = errors.New("alarm: negative percent late")

// ErrNilListener is returned when an alarm is requested without a listener or group.
var ErrNilListener = errors.New("alarm: nil listener")

// ErrClosed is returned by operations on a Manager or TimeoutManager that has
// been closed.
var ErrClosed = errors.New("alarm: closed")

// ErrInvalidBuckets is returned by NewTimeoutManager when fewer than two
// buckets are requested.
var ErrInvalidBuckets = errors.New("alarm: number of buckets must be greater than one")

// ErrInvalidInterval is returned when a timeout interval is not positive.
var ErrInvalidInterval = errors.New("alarm: timeout interval must be positive")

// ErrNilProcessor is returned by NewTimeoutManager when no Processor is given.
var ErrNilProcessor = errors.New("alarm: nil processor")

// ErrNilManager is returned by NewTimeoutManager when no Manager is given.
var ErrNilManager = errors.New("alarm: nil manager")

package alarm

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestHooksNilSafe(t *testing.T) {
	var h *Hooks
	assert.NotPanics(t, func() {
		h.callOnWake(time.Now(), 1)
		h.callOnBatch(1, 0, 0)
		h.callOnListenerPanic(&PanicError{Value: "x"})
	})

	partial := &Hooks{OnBatch: func(int, int, time.Duration) {}}
	assert.NotPanics(t, func() {
		partial.callOnWake(time.Now(), 1)
		partial.callOnListenerPanic(&PanicError{Value: "x"})
	})

	var th *TimeoutHooks
	assert.NotPanics(t, func() {
		th.callOnBatch(uuid.Nil, 1, nil)
		th.callOnEscalation(uuid.Nil, EscalationNominal, EscalationFailedOnce)
	})
}

func TestTimeoutHooksSkipUnchangedState(t *testing.T) {
	var calls int
	h := &TimeoutHooks{
		OnEscalation: func(GroupID, EscalationState, EscalationState) { calls++ },
	}
	h.callOnEscalation(uuid.Nil, EscalationNominal, EscalationNominal)
	assert.Equal(t, 0, calls)
	h.callOnEscalation(uuid.Nil, EscalationNominal, EscalationFailedOnce)
	assert.Equal(t, 1, calls)
}

func TestPanicError(t *testing.T) {
	cause := errors.New("cause")
	perr := safeExecute(func() { panic(cause) })
	if assert.NotNil(t, perr) {
		assert.Equal(t, "panic: cause", perr.Error())
		assert.ErrorIs(t, perr, cause)
		assert.NotEmpty(t, perr.Stack)
		assert.Contains(t, perr.String(), "stack:")
	}

	perr = safeExecute(func() { panic(42) })
	if assert.NotNil(t, perr) {
		assert.Nil(t, perr.Unwrap())
	}

	assert.Nil(t, safeExecute(func() {}))
}

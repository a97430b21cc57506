package alarm

// EscalationState tracks consecutive batch failures of a TimeoutManager.
//
//	NOMINAL --[failure]--> FAILED_ONCE --[failure]--> CLEARED --[failure]--> HALTED
//	   ^                        |                        |
//	   +-------[success]--------+-----------[success]----+
//
// Recurring alarms restart themselves, so a processor that fails on every
// batch would otherwise fail forever. The first failure re-arms the batch
// anyway; the second removes the batch's entries; a failure after that, with
// no success in between, stops the timer for good.
type EscalationState int

const (
	// EscalationNominal is the initial state and the state after any success.
	EscalationNominal EscalationState = iota
	// EscalationFailedOnce follows one failed batch.
	EscalationFailedOnce
	// EscalationCleared follows a second consecutive failure, whose entries
	// were removed.
	EscalationCleared
	// EscalationHalted is terminal: the timer has been stopped permanently.
	EscalationHalted
)

func (s EscalationState) String() string {
	switch s {
	case EscalationNominal:
		return "nominal"
	case EscalationFailedOnce:
		return "failed-once"
	case EscalationCleared:
		return "cleared"
	case EscalationHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// escalationAction is what the TimeoutManager does with a processed batch.
type escalationAction int

const (
	actionNone escalationAction = iota
	actionRearm
	actionPurge
	actionHalt
)

func (a escalationAction) String() string {
	switch a {
	case actionNone:
		return "none"
	case actionRearm:
		return "rearm"
	case actionPurge:
		return "purge"
	case actionHalt:
		return "halt"
	default:
		return "unknown"
	}
}

// next returns the state after a batch that succeeded (ok) or failed, and
// the action to apply to that batch.
func (s EscalationState) next(ok bool) (EscalationState, escalationAction) {
	if s == EscalationHalted {
		return EscalationHalted, actionNone
	}
	if ok {
		return EscalationNominal, actionRearm
	}
	switch s {
	case EscalationNominal:
		return EscalationFailedOnce, actionRearm
	case EscalationFailedOnce:
		return EscalationCleared, actionPurge
	default:
		return EscalationHalted, actionHalt
	}
}

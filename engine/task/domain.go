package task

// -----------------------------------------------------------------------------
// Task Types
// -----------------------------------------------------------------------------

type Type string

const (
	TypeSimple          Type = "SIMPLE"
	TypeDecision        Type = "DECISION"
	TypeFork            Type = "FORK"
	TypeForkJoinDynamic Type = "FORK_JOIN_DYNAMIC"
	TypeJoin            Type = "JOIN"
	TypeSubWorkflow     Type = "SUB_WORKFLOW"
	TypeWait            Type = "WAIT"
	TypeEvent           Type = "EVENT"
	TypeUserDefined     Type = "USER_DEFINED"
)

func (t Type) String() string {
	return string(t)
}

// IsSystem reports whether the type is orchestrated by the engine itself
// rather than by an external worker.
func (t Type) IsSystem() bool {
	switch t {
	case TypeDecision, TypeFork, TypeForkJoinDynamic, TypeJoin, TypeSubWorkflow, TypeWait, TypeEvent:
		return true
	default:
		return false
	}
}

// IsBuiltIn reports whether the type is one of the control-flow primitives
// the decider always re-evaluates, regardless of the retried/executed flags.
func (t Type) IsBuiltIn() bool {
	switch t {
	case TypeDecision, TypeFork, TypeJoin:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Task Status
// -----------------------------------------------------------------------------

type Status string

const (
	StatusScheduled           Status = "SCHEDULED"
	StatusInProgress          Status = "IN_PROGRESS"
	StatusCompleted           Status = "COMPLETED"
	StatusCompletedWithErrors Status = "COMPLETED_WITH_ERRORS"
	StatusFailed              Status = "FAILED"
	StatusCanceled            Status = "CANCELED"
	StatusTimedOut            Status = "TIMED_OUT"
	StatusSkipped             Status = "SKIPPED"
	StatusReadyForRerun       Status = "READY_FOR_RERUN"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusFailed, StatusCanceled, StatusTimedOut, StatusSkipped:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether s counts as not-failed. Non-terminal statuses
// are successful until proven otherwise.
func (s Status) IsSuccessful() bool {
	switch s {
	case StatusFailed, StatusCanceled, StatusTimedOut:
		return false
	default:
		return true
	}
}

// IsRetriable reports whether a task in this status may be retried. A
// canceled task is never retried; cancellation fails its workflow.
func (s Status) IsRetriable() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// -----------------------------------------------------------------------------
// Retry Logic / Timeout Policy
// -----------------------------------------------------------------------------

type RetryLogic string

const (
	RetryFixed              RetryLogic = "FIXED"
	RetryExponentialBackoff RetryLogic = "EXPONENTIAL_BACKOFF"
)

type TimeoutPolicy string

const (
	TimeoutAlertOnly TimeoutPolicy = "ALERT_ONLY"
	TimeoutRetry     TimeoutPolicy = "RETRY"
	TimeoutWorkflow  TimeoutPolicy = "TIME_OUT_WF"
)

package workflow

// -----------------------------------------------------------------------------
// Workflow Status
// -----------------------------------------------------------------------------

type Status string

const (
	StatusRunning    Status = "RUNNING"
	StatusPaused     Status = "PAUSED"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusTimedOut   Status = "TIMED_OUT"
	StatusTerminated Status = "TERMINATED"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the workflow can take no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusTerminated:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the workflow finished cleanly.
func (s Status) IsSuccessful() bool {
	return s == StatusCompleted
}

package graph

// Status is the lifecycle state of a session as reported by a RunOutcome.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusSuspended
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON and logs.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RunOutcome is the result of Start or Resume.
//
//   - Suspended: Checkpoint and Prompt are set.
//   - Completed: State holds the final state, including History.
//   - Failed: Err is set. State holds the state at the failure. When the
//     failed run was resumed from a checkpoint, Checkpoint is that
//     checkpoint, which remains resumable.
type RunOutcome[R any] struct {
	Status     Status
	Checkpoint *Checkpoint
	Prompt     any
	State      *SessionState[R]
	Err        error
}

// History is a shortcut for the History of the outcome state.
func (o RunOutcome[R]) History() []R {
	if o.State == nil {
		return nil
	}
	return o.State.historyCopy()
}

// Output returns the value produced by a node, typically a terminal.
func (o RunOutcome[R]) Output(node string) (any, bool) {
	if o.State == nil {
		return nil, false
	}
	return o.State.Value(node)
}

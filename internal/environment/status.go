// Package environment implements the EnvironmentRequester (§4.2): the
// background task that asks the external Environment Provider for
// environments, tracks readiness across direct-mode HTTP and
// operator-mode Kubernetes-CRD paths, and releases what it reserved.
package environment

import "sync"

// State is EnvironmentStatus.state (§3).
type State int

const (
	NotStarted State = iota
	Pending
	Success
	Failure
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Pending:
		return "PENDING"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Status is the process-wide shared EnvironmentStatus (§3, §5):
// mutated only through Set under a single mutex, read only
// through a snapshot copy so callers can never observe a torn write.
type Status struct {
	mu    sync.Mutex
	state State
	err   error
}

// Snapshot is a read-copy of Status at one point in time.
type Snapshot struct {
	State State
	Err   error
}

// Get returns a snapshot of the current status.
func (s *Status) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, Err: s.err}
}

// Set writes a new status. A FAILURE is sticky: once set, no later
// SUCCESS is permitted to overwrite it (§5 ordering guarantee, §8
// invariant 7 "EnvironmentStatus never transitions from FAILURE to
// SUCCESS"). Setting FAILURE again (e.g. a second failing request)
// updates the recorded error.
func (s *Status) Set(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Failure && state == Success {
		return
	}
	s.state = state
	s.err = err
}

// Package model defines the client-side domain types for the workbench run API.
//
// Types mirror the JSON the backend returns. They are plain values: a RunHandle
// or Artifact is never mutated after it is decoded, and RunStatus is re-fetched
// on every poll rather than cached.
package model

// RunState is the backend-reported lifecycle state of a run.
type RunState string

const (
	RunStateQueued          RunState = "queued"
	RunStateStarting        RunState = "starting"
	RunStateRunning         RunState = "running"
	RunStateWaitingForInput RunState = "waiting_for_input"
	RunStateSucceeded       RunState = "succeeded"
	RunStateFailed          RunState = "failed"
	RunStateCancelled       RunState = "cancelled"
)

// IsTerminal reports whether no further transitions can follow s.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStateCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known states.
func (s RunState) Valid() bool {
	switch s {
	case RunStateQueued, RunStateStarting, RunStateRunning, RunStateWaitingForInput,
		RunStateSucceeded, RunStateFailed, RunStateCancelled:
		return true
	default:
		return false
	}
}

// RunHandle identifies a started invocation and the durable run behind it.
type RunHandle struct {
	InvocationID string `json:"invocation_id"`
	RunID        int64  `json:"run_id"`
}

// RunStatus is one observation of a run. Backend metadata beyond these
// fields is ignored.
type RunStatus struct {
	RunID         int64    `json:"run_id"`
	State         RunState `json:"state"`
	FailureReason *string  `json:"failure_reason,omitempty"`
}

// Reason returns the failure reason verbatim when present, else the state name.
func (s RunStatus) Reason() string {
	if s.FailureReason != nil && *s.FailureReason != "" {
		return *s.FailureReason
	}
	return string(s.State)
}

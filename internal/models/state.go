// Package models defines the data structures shared by the import pipeline.
package models

import "fmt"

// RunState is the step of an import run that last completed.
type RunState string

const (
	RunStateInit                 RunState = "init"
	RunStateSchemaDropped        RunState = "schema_dropped"
	RunStateSnapshotCaptured     RunState = "snapshot_captured"
	RunStatePreHooksRun          RunState = "pre_hooks_run"
	RunStateMetadataImported     RunState = "metadata_imported"
	RunStateConstraintsSuspended RunState = "constraints_suspended"
	RunStateDataCopied           RunState = "data_copied"
	RunStatePostHooksRun         RunState = "post_hooks_run"
	RunStateConstraintsRestored  RunState = "constraints_restored"
	RunStateDone                 RunState = "done"
	RunStateFailed               RunState = "failed"
)

// AllRunStates returns every run state in pipeline order.
func AllRunStates() []RunState {
	return []RunState{
		RunStateInit,
		RunStateSchemaDropped,
		RunStateSnapshotCaptured,
		RunStatePreHooksRun,
		RunStateMetadataImported,
		RunStateConstraintsSuspended,
		RunStateDataCopied,
		RunStatePostHooksRun,
		RunStateConstraintsRestored,
		RunStateDone,
		RunStateFailed,
	}
}

// validTransitions maps each state to the states that may follow it.
var validTransitions = map[RunState][]RunState{
	RunStateInit:                 {RunStateSchemaDropped, RunStateSnapshotCaptured, RunStateFailed},
	RunStateSchemaDropped:        {RunStateSnapshotCaptured, RunStateFailed},
	RunStateSnapshotCaptured:     {RunStatePreHooksRun, RunStateFailed},
	RunStatePreHooksRun:          {RunStateMetadataImported, RunStateFailed},
	RunStateMetadataImported:     {RunStateConstraintsSuspended, RunStateFailed},
	RunStateConstraintsSuspended: {RunStateDataCopied, RunStateFailed},
	RunStateDataCopied:           {RunStatePostHooksRun, RunStateFailed},
	RunStatePostHooksRun:         {RunStateConstraintsRestored, RunStateFailed},
	RunStateConstraintsRestored:  {RunStateDone},
}

// IsValid returns true if the state is a recognized value.
func (s RunState) IsValid() bool {
	for _, valid := range AllRunStates() {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states no transition leaves.
func (s RunState) IsTerminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// CanTransitionTo reports whether next may directly follow s.
func (s RunState) CanTransitionTo(next RunState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error if moving from s to next is not allowed.
func (s RunState) ValidateTransition(next RunState) error {
	if !next.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRunState, next)
	}
	if !s.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return nil
}

// String returns the string representation of the state.
func (s RunState) String() string {
	return string(s)
}

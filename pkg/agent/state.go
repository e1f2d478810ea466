// Copyright 2026 © The Argo Authors
// SPDX-License-Identifier: Apache-2.0

package agent

// State is the lifecycle phase of an agent's current turn.
type State int32

const (
	StateIdle State = iota
	StateEngaging
	StateRequiring
	StateExecuting
	StateCommitting
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateEngaging:   "engaging",
	StateRequiring:  "requiring",
	StateExecuting:  "executing",
	StateCommitting: "committing",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Busy reports whether s belongs to a turn in progress.
func (s State) Busy() bool {
	return s != StateIdle && s != StateFailed
}

package engine

import (
	"fmt"
	"time"

	"github.com/haldane/stepflow/pkg/errors"
)

// StateMachine guards execution record status transitions. Every status
// flip in the engine goes through Transition so terminal states stay
// final and lifecycle timestamps stay consistent.
type StateMachine struct {
	transitions map[ExecutionStatus][]ExecutionStatus
	hooks       Hooks
}

// Hooks defines lifecycle hooks for the state machine.
type Hooks struct {
	// BeforeTransition runs before the status flips; returning an error
	// aborts the transition.
	BeforeTransition func(rec *ExecutionRecord, from, to ExecutionStatus) error

	// AfterTransition runs after the status flipped and timestamps were
	// updated.
	AfterTransition func(rec *ExecutionRecord, from, to ExecutionStatus)
}

// NewStateMachine creates a state machine with the standard execution
// lifecycle: pending -> running -> completed | failed | cancelled, with
// cancellation also allowed from pending.
func NewStateMachine(hooks Hooks) *StateMachine {
	return &StateMachine{
		transitions: map[ExecutionStatus][]ExecutionStatus{
			StatusPending: {StatusRunning, StatusCancelled, StatusFailed},
			StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
		},
		hooks: hooks,
	}
}

// CanTransition reports whether moving from one status to another is
// allowed.
func (sm *StateMachine) CanTransition(from, to ExecutionStatus) bool {
	for _, allowed := range sm.transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the record to a new status, updating UpdatedAt and the
// lifecycle timestamps. Invalid transitions (including any move out of a
// terminal status) fail with a ValidationError.
func (sm *StateMachine) Transition(rec *ExecutionRecord, to ExecutionStatus) error {
	from := rec.Status

	if !to.IsValid() {
		return &errors.ValidationError{
			Field:      "status",
			Message:    fmt.Sprintf("unknown execution status: %s", to),
			Suggestion: "use one of: pending, running, completed, failed, cancelled",
		}
	}

	if !sm.CanTransition(from, to) {
		return &errors.ValidationError{
			Field:      "status",
			Message:    fmt.Sprintf("transition not allowed: %s -> %s", from, to),
			Suggestion: "terminal statuses are final",
		}
	}

	if sm.hooks.BeforeTransition != nil {
		if err := sm.hooks.BeforeTransition(rec, from, to); err != nil {
			return fmt.Errorf("before transition hook: %w", err)
		}
	}

	now := time.Now()
	rec.Status = to
	rec.UpdatedAt = now

	switch to {
	case StatusRunning:
		if rec.StartedAt == nil {
			rec.StartedAt = &now
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		if rec.CompletedAt == nil {
			rec.CompletedAt = &now
		}
	}

	if sm.hooks.AfterTransition != nil {
		sm.hooks.AfterTransition(rec, from, to)
	}

	return nil
}

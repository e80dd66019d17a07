package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowExecutionStatus is the lifecycle state of a workflow execution.
type WorkflowExecutionStatus string

// Valid workflow execution states
const (
	WorkflowExecutionPending   WorkflowExecutionStatus = "pending"
	WorkflowExecutionRunning   WorkflowExecutionStatus = "running"
	WorkflowExecutionSuccess   WorkflowExecutionStatus = "success"
	WorkflowExecutionFailed    WorkflowExecutionStatus = "failed"
	WorkflowExecutionCancelled WorkflowExecutionStatus = "cancelled"
)

// workflowTransitions is the static transition table. Terminal states have
// no outgoing edges.
var workflowTransitions = map[WorkflowExecutionStatus][]WorkflowExecutionStatus{
	WorkflowExecutionPending: {WorkflowExecutionRunning},
	WorkflowExecutionRunning: {WorkflowExecutionSuccess, WorkflowExecutionFailed, WorkflowExecutionCancelled},
}

// WorkflowExecution is a single attempt to run a workflow. It is immutable
// history once terminal, with one documented exception: Reopen, used by the
// manual-retry entry point.
type WorkflowExecution struct {
	ID              uuid.UUID               `json:"id" db:"id"`
	WorkflowID      uuid.UUID               `json:"workflow_id" db:"workflow_id"`
	WorkflowVersion int                     `json:"workflow_version" db:"workflow_version"`
	Status          WorkflowExecutionStatus `json:"status" db:"status"`
	TriggerSource   string                  `json:"trigger_source" db:"trigger_source"`
	StartedAt       *time.Time              `json:"started_at,omitempty" db:"started_at"`
	FinishedAt      *time.Time              `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt       time.Time               `json:"created_at" db:"created_at"`

	// Runtime data
	StepExecutions []*StepExecution `json:"step_executions,omitempty" db:"-"`
}

// IsTerminal returns true if the execution is in a terminal state.
func (e *WorkflowExecution) IsTerminal() bool {
	switch e.Status {
	case WorkflowExecutionSuccess, WorkflowExecutionFailed, WorkflowExecutionCancelled:
		return true
	default:
		return false
	}
}

// TransitionTo moves the execution to the next state, enforcing the
// transition table and updating timestamps. Entering running sets
// started_at (once); entering a terminal state sets finished_at.
func (e *WorkflowExecution) TransitionTo(next WorkflowExecutionStatus) error {
	if e.IsTerminal() {
		return &InvalidTransitionError{Entity: "WorkflowExecution", From: string(e.Status), To: string(next)}
	}

	allowed := false
	for _, s := range workflowTransitions[e.Status] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return &InvalidTransitionError{Entity: "WorkflowExecution", From: string(e.Status), To: string(next)}
	}

	e.Status = next
	now := time.Now().UTC()
	if next == WorkflowExecutionRunning && e.StartedAt == nil {
		e.StartedAt = &now
	}
	if e.IsTerminal() {
		e.FinishedAt = &now
	}
	return nil
}

// Reopen moves a failed execution back to running so a manual retry can
// continue it. This is the single sanctioned exception to terminal
// immutability; it is only reachable from the resume entry point.
func (e *WorkflowExecution) Reopen() error {
	if e.Status != WorkflowExecutionFailed {
		return &InvalidTransitionError{Entity: "WorkflowExecution", From: string(e.Status), To: string(WorkflowExecutionRunning)}
	}
	e.Status = WorkflowExecutionRunning
	e.FinishedAt = nil
	return nil
}

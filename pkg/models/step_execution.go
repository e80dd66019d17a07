package models

import (
	"time"

	"github.com/google/uuid"
)

// StepExecutionStatus is the lifecycle state of a step attempt.
type StepExecutionStatus string

// Valid step execution states
const (
	StepExecutionPending StepExecutionStatus = "pending"
	StepExecutionRunning StepExecutionStatus = "running"
	StepExecutionSuccess StepExecutionStatus = "success"
	StepExecutionFailed  StepExecutionStatus = "failed"
	StepExecutionSkipped StepExecutionStatus = "skipped"
)

// ErrorType classifies a step failure for the retry policy.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

var stepTransitions = map[StepExecutionStatus][]StepExecutionStatus{
	StepExecutionPending: {StepExecutionRunning},
	StepExecutionRunning: {StepExecutionSuccess, StepExecutionFailed, StepExecutionSkipped},
}

// StepExecution is one attempt at one step inside a workflow execution.
// Attempts are evidence of what actually happened: they are appended, never
// rewritten, and retries produce new rows chained through
// ParentStepExecutionID.
type StepExecution struct {
	ID                    uuid.UUID           `json:"id" db:"id"`
	WorkflowExecutionID   uuid.UUID           `json:"workflow_execution_id" db:"workflow_execution_id"`
	StepID                uuid.UUID           `json:"step_id" db:"step_id"`
	Status                StepExecutionStatus `json:"status" db:"status"`
	Input                 JSONMap             `json:"input,omitempty" db:"input"`
	Output                JSONMap             `json:"output,omitempty" db:"output"`
	Error                 string              `json:"error,omitempty" db:"error"`
	ErrorType             string              `json:"error_type,omitempty" db:"error_type"`
	RetryCount            int                 `json:"retry_count" db:"retry_count"`
	IsRetry               bool                `json:"is_retry" db:"is_retry"`
	ParentStepExecutionID *uuid.UUID          `json:"parent_step_execution_id,omitempty" db:"parent_step_execution_id"`
	StepMetadata          JSONMap             `json:"step_metadata,omitempty" db:"step_metadata"`
	StartedAt             *time.Time          `json:"started_at,omitempty" db:"started_at"`
	FinishedAt            *time.Time          `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt             time.Time           `json:"created_at" db:"created_at"`
}

// IsTerminal returns true if the attempt is in a terminal state.
func (s *StepExecution) IsTerminal() bool {
	switch s.Status {
	case StepExecutionSuccess, StepExecutionFailed, StepExecutionSkipped:
		return true
	default:
		return false
	}
}

// TransitionTo moves the attempt to the next state, enforcing the
// transition table and updating timestamps.
func (s *StepExecution) TransitionTo(next StepExecutionStatus) error {
	if s.IsTerminal() {
		return &InvalidTransitionError{Entity: "StepExecution", From: string(s.Status), To: string(next)}
	}

	allowed := false
	for _, st := range stepTransitions[s.Status] {
		if st == next {
			allowed = true
			break
		}
	}
	if !allowed {
		return &InvalidTransitionError{Entity: "StepExecution", From: string(s.Status), To: string(next)}
	}

	s.Status = next
	now := time.Now().UTC()
	if next == StepExecutionRunning && s.StartedAt == nil {
		s.StartedAt = &now
	}
	if s.IsTerminal() {
		s.FinishedAt = &now
	}
	return nil
}

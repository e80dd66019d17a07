// Package executor implements the workflow execution core: the step
// contract, the timeout harness, schema validation, the retry policy, and
// the linear orchestrator that drives a workflow execution end to end.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flowline/flowline/pkg/models"
)

// Result statuses
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Error codes raised by the core itself. Step implementations define their
// own codes (FORCED_FAILURE, HTTP_ERROR, ...).
const (
	CodeTimeout         = "TIMEOUT"
	CodeValidationError = "VALIDATION_ERROR"
	CodeStepCrash       = "STEP_CRASH"
)

// ExecutionContext is the runtime context handed to every step execution.
// It carries identifiers and the original trigger input; the executor
// manages data flow between steps, the context never does.
type ExecutionContext struct {
	WorkflowExecutionID uuid.UUID
	StepExecutionID     uuid.UUID
	WorkflowID          uuid.UUID
	StepID              uuid.UUID
	TriggerInput        interface{}
	RetryCount          int
}

// StepExecutor is the single contract every step implementation exposes.
// Execute must never panic; errors are reported through the result. The
// harness still recovers a panicking step and converts it to a permanent
// STEP_CRASH failure so history stays consistent.
type StepExecutor interface {
	Execute(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult
}

// StepError is structured error information for a failed step execution.
// Retryable must agree with ErrorType; the executor treats ErrorType as the
// source of truth.
type StepError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	ErrorType string `json:"error_type"`
}

// StepMetadata captures timing for one step execution.
type StepMetadata struct {
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// StepResult is the standardized result shape returned by all step
// executors: success carries an output, failure carries an error, and both
// carry timing metadata. StepMeta is optional free-form metadata persisted
// on the attempt (the AI step records provider/model/prompt there).
type StepResult struct {
	Status   string         `json:"status"`
	Output   interface{}    `json:"output,omitempty"`
	Error    *StepError     `json:"error,omitempty"`
	Metadata *StepMetadata  `json:"metadata,omitempty"`
	StepMeta models.JSONMap `json:"step_metadata,omitempty"`
}

// Validate checks the success/failure duality of the result shape.
func (r *StepResult) Validate() error {
	switch r.Status {
	case ResultSuccess:
		if r.Error != nil {
			return errors.New("success result cannot have an error")
		}
	case ResultFailure:
		if r.Error == nil {
			return errors.New("failure result must have an error")
		}
	default:
		return errors.Errorf("invalid result status: %q", r.Status)
	}
	return nil
}

// IsSuccess returns true for a success result.
func (r *StepResult) IsSuccess() bool {
	return r.Status == ResultSuccess
}

// NewMetadata brackets a step call that started at the given time.
func NewMetadata(startedAt time.Time) *StepMetadata {
	finishedAt := time.Now().UTC()
	return &StepMetadata{
		DurationMS: finishedAt.Sub(startedAt).Milliseconds(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}
}

// Success builds a success result with timing metadata.
func Success(startedAt time.Time, output interface{}) *StepResult {
	return &StepResult{
		Status:   ResultSuccess,
		Output:   output,
		Metadata: NewMetadata(startedAt),
	}
}

// Failure builds a failure result with timing metadata. Retryable is
// derived from the error type.
func Failure(startedAt time.Time, code, message, errorType string) *StepResult {
	return &StepResult{
		Status: ResultFailure,
		Error: &StepError{
			Code:      code,
			Message:   message,
			Retryable: errorType == models.ErrorTypeTransient,
			ErrorType: errorType,
		},
		Metadata: NewMetadata(startedAt),
	}
}

// StepFactory produces a fresh StepExecutor for a step declaration. A new
// instance is created per attempt; steps hold no state across calls.
type StepFactory interface {
	Create(step *models.Step) StepExecutor
}

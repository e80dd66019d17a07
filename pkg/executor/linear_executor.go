package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/observability"
	"github.com/flowline/flowline/pkg/repository"
)

// DefaultStepTimeout bounds a step attempt when the step declares none.
const DefaultStepTimeout = 30 * time.Second

// RetryNotAllowedError is returned by Resume when the referenced attempt is
// not retryable. The HTTP layer maps it to a 4xx.
type RetryNotAllowedError struct {
	Reason string
}

func (e *RetryNotAllowedError) Error() string {
	return "retry not allowed: " + e.Reason
}

// Config tunes the executor.
type Config struct {
	// DefaultStepTimeout applies to steps without a declared timeout.
	DefaultStepTimeout time.Duration
}

// LinearExecutor drives one workflow execution end to end: it creates the
// execution record, runs the steps strictly in order, applies validation,
// timeouts and retries per attempt, and records every transition and log
// event through the persistence port. One call owns one execution from
// start to terminal state.
type LinearExecutor struct {
	executions repository.ExecutionRepository
	workflows  repository.WorkflowRepository
	factory    StepFactory
	validator  *SchemaValidator
	harness    *TimeoutHarness
	retry      *RetryPolicy
	logger     observability.Logger

	defaultTimeout time.Duration
	sleep          func(time.Duration)
}

// NewLinearExecutor creates an executor over the given ports.
func NewLinearExecutor(
	executions repository.ExecutionRepository,
	workflows repository.WorkflowRepository,
	factory StepFactory,
	logger observability.Logger,
	config Config,
) *LinearExecutor {
	if config.DefaultStepTimeout <= 0 {
		config.DefaultStepTimeout = DefaultStepTimeout
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	return &LinearExecutor{
		executions:     executions,
		workflows:      workflows,
		factory:        factory,
		validator:      NewSchemaValidator(),
		harness:        NewTimeoutHarness(),
		retry:          NewRetryPolicy(),
		logger:         logger,
		defaultTimeout: config.DefaultStepTimeout,
		sleep:          time.Sleep,
	}
}

// Execute runs the workflow with the given trigger input. It blocks until
// the execution reaches a terminal state and returns the execution record.
func (e *LinearExecutor) Execute(ctx context.Context, workflow *models.Workflow, triggerInput interface{}, triggerSource string) (*models.WorkflowExecution, error) {
	if triggerSource == "" {
		triggerSource = "manual"
	}

	execution := &models.WorkflowExecution{
		ID:              uuid.New(),
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		Status:          models.WorkflowExecutionPending,
		TriggerSource:   triggerSource,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.executions.CreateWorkflowExecution(ctx, execution); err != nil {
		return nil, errors.Wrap(err, "failed to create workflow execution")
	}

	if err := execution.TransitionTo(models.WorkflowExecutionRunning); err != nil {
		return nil, err
	}
	startLog := e.workflowLog(execution, "Workflow execution started", models.JSONMap{
		"workflow_id":   execution.WorkflowID.String(),
		"workflow_name": workflow.Name,
		"status":        "RUNNING",
	})
	if err := e.executions.UpdateWorkflowExecution(ctx, execution, startLog); err != nil {
		return nil, errors.Wrap(err, "failed to start workflow execution")
	}
	e.logger.Info("Workflow execution started", map[string]interface{}{
		"execution_id": execution.ID,
		"workflow_id":  execution.WorkflowID,
	})

	steps, err := e.workflows.ListSteps(ctx, workflow.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load workflow steps")
	}

	currentInput := triggerInput
	for _, step := range steps {
		output, failed, err := e.runStep(ctx, execution, step, currentInput, triggerInput)
		if err != nil {
			return nil, err
		}
		if failed {
			break
		}
		currentInput = output
	}

	if err := e.completeWorkflow(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// Resume retries a specific failed attempt of a terminal execution,
// creating a new attempt linked to the failed one, and on success continues
// with the remaining steps. It returns RetryNotAllowedError when the
// referenced attempt cannot be retried.
func (e *LinearExecutor) Resume(ctx context.Context, workflowExecutionID, failedStepExecutionID uuid.UUID) (*models.WorkflowExecution, error) {
	execution, err := e.executions.GetWorkflowExecution(ctx, workflowExecutionID)
	if err != nil {
		return nil, err
	}
	failed, err := e.executions.GetStepExecution(ctx, failedStepExecutionID)
	if err != nil {
		return nil, err
	}

	if failed.WorkflowExecutionID != execution.ID {
		return nil, &RetryNotAllowedError{Reason: "step execution does not belong to this workflow execution"}
	}
	if !execution.IsTerminal() {
		return nil, &RetryNotAllowedError{Reason: "workflow execution is still running"}
	}
	if execution.Status == models.WorkflowExecutionCancelled {
		return nil, &RetryNotAllowedError{Reason: "workflow execution was cancelled"}
	}
	if failed.Status != models.StepExecutionFailed {
		return nil, &RetryNotAllowedError{Reason: "step execution is not in failed state"}
	}

	attempts, err := e.executions.ListStepExecutions(ctx, execution.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load step executions")
	}
	for _, a := range attempts {
		if a.StepID == failed.StepID && a.RetryCount > failed.RetryCount {
			return nil, &RetryNotAllowedError{Reason: "a newer attempt already exists for this step"}
		}
	}

	steps, err := e.workflows.ListSteps(ctx, execution.WorkflowID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load workflow steps")
	}
	var failedStep *models.Step
	for _, s := range steps {
		if s.ID == failed.StepID {
			failedStep = s
			break
		}
	}
	if failedStep == nil {
		return nil, &RetryNotAllowedError{Reason: "step is not part of this workflow execution"}
	}

	if execution.Status == models.WorkflowExecutionFailed {
		if err := execution.Reopen(); err != nil {
			return nil, err
		}
		resumeLog := e.workflowLog(execution, "Workflow execution resumed", models.JSONMap{
			"workflow_id": execution.WorkflowID.String(),
			"status":      "RUNNING",
		})
		if err := e.executions.UpdateWorkflowExecution(ctx, execution, resumeLog); err != nil {
			return nil, errors.Wrap(err, "failed to reopen workflow execution")
		}
	}

	// The trigger input of the run is the first attempt's input snapshot.
	triggerInput := interface{}(failed.Input)
	if len(attempts) > 0 {
		triggerInput = attempts[0].Input
	}

	parentID := failed.ID
	attempt := e.newAttempt(execution, failedStep, failed.Input, failed.RetryCount+1, &parentID)
	if err := e.executions.CreateStepExecution(ctx, attempt); err != nil {
		return nil, errors.Wrap(err, "failed to create retry attempt")
	}

	// Manually initiated: one attempt, no automatic retries on failure.
	result, err := e.runAttempt(ctx, execution, failedStep, attempt, failed.Input, triggerInput)
	if err != nil {
		return nil, err
	}

	if result.IsSuccess() {
		currentInput := result.Output
		for _, step := range steps {
			if step.Order <= failedStep.Order {
				continue
			}
			output, stepFailed, err := e.runStep(ctx, execution, step, currentInput, triggerInput)
			if err != nil {
				return nil, err
			}
			if stepFailed {
				break
			}
			currentInput = output
		}
	}

	if err := e.completeWorkflow(ctx, execution); err != nil {
		return nil, err
	}
	return execution, nil
}

// runStep drives one step's attempt chain: the first attempt plus any
// automatic retries. It reports the step's output and whether the chain
// ended in failure.
func (e *LinearExecutor) runStep(ctx context.Context, execution *models.WorkflowExecution, step *models.Step, input, triggerInput interface{}) (interface{}, bool, error) {
	attempt := e.newAttempt(execution, step, models.AsInputMap(input), 0, nil)
	if err := e.executions.CreateStepExecution(ctx, attempt); err != nil {
		return nil, false, errors.Wrap(err, "failed to create step execution")
	}

	for {
		result, err := e.runAttempt(ctx, execution, step, attempt, input, triggerInput)
		if err != nil {
			return nil, false, err
		}
		if result.IsSuccess() {
			return result.Output, false, nil
		}

		retry, backoff := e.retry.ShouldRetry(step, attempt, result.Error)
		if !retry {
			return nil, true, nil
		}

		nextCount := attempt.RetryCount + 1
		backoffSeconds := int(backoff / time.Second)
		retryLog := e.stepLog(execution, attempt,
			fmt.Sprintf("Retrying step after %ds backoff (attempt %d)", backoffSeconds, nextCount),
			models.JSONMap{
				"step_type":       string(step.Type),
				"status":          "RETRYING",
				"retry_count":     attempt.RetryCount,
				"backoff_seconds": backoffSeconds,
				"next_retry":      nextCount,
			})
		if err := e.executions.AppendLog(ctx, retryLog); err != nil {
			return nil, false, errors.Wrap(err, "failed to append retry log")
		}

		e.sleep(backoff)

		parentID := attempt.ID
		next := e.newAttempt(execution, step, attempt.Input, nextCount, &parentID)
		if err := e.executions.CreateStepExecution(ctx, next); err != nil {
			return nil, false, errors.Wrap(err, "failed to create retry attempt")
		}
		attempt = next
	}
}

// runAttempt executes exactly one attempt: transition to running, validate
// input, run the step under the timeout harness, validate output, commit
// the terminal state with its log event.
func (e *LinearExecutor) runAttempt(ctx context.Context, execution *models.WorkflowExecution, step *models.Step, attempt *models.StepExecution, input, triggerInput interface{}) (*StepResult, error) {
	if err := attempt.TransitionTo(models.StepExecutionRunning); err != nil {
		return nil, err
	}
	startedMsg := fmt.Sprintf("Step started: %s", step.Type)
	if attempt.RetryCount > 0 {
		startedMsg = fmt.Sprintf("Step started: %s (retry %d)", step.Type, attempt.RetryCount)
	}
	startLog := e.stepLog(execution, attempt, startedMsg, models.JSONMap{
		"step_type":   string(step.Type),
		"status":      "RUNNING",
		"retry_count": attempt.RetryCount,
	})
	if err := e.executions.UpdateStepExecution(ctx, attempt, startLog); err != nil {
		return nil, errors.Wrap(err, "failed to start step execution")
	}

	execCtx := &ExecutionContext{
		WorkflowExecutionID: execution.ID,
		StepExecutionID:     attempt.ID,
		WorkflowID:          execution.WorkflowID,
		StepID:              step.ID,
		TriggerInput:        triggerInput,
		RetryCount:          attempt.RetryCount,
	}

	// An input schema violation skips the step entirely.
	result := e.validator.ValidateInput(step, input)
	if result == nil {
		instance := e.factory.Create(step)
		result = e.harness.Run(ctx, instance, input, execCtx, e.stepTimeout(step))
		result = e.validator.ValidateOutput(step, result)
	}

	if result.IsSuccess() {
		attempt.Output = models.AsInputMap(result.Output)
		attempt.StepMetadata = result.StepMeta
		if err := attempt.TransitionTo(models.StepExecutionSuccess); err != nil {
			return nil, err
		}
		successLog := e.stepLog(execution, attempt,
			fmt.Sprintf("Step completed successfully: %s", step.Type),
			models.JSONMap{
				"step_type": string(step.Type),
				"status":    "SUCCESS",
			})
		if err := e.executions.UpdateStepExecution(ctx, attempt, successLog); err != nil {
			return nil, errors.Wrap(err, "failed to complete step execution")
		}
		return result, nil
	}

	attempt.Error = fmt.Sprintf("%s: %s", result.Error.Code, result.Error.Message)
	attempt.ErrorType = result.Error.ErrorType
	attempt.StepMetadata = result.StepMeta
	if err := attempt.TransitionTo(models.StepExecutionFailed); err != nil {
		return nil, err
	}
	failLog := e.stepLog(execution, attempt,
		fmt.Sprintf("Step failed: %s", step.Type),
		models.JSONMap{
			"step_type":   string(step.Type),
			"status":      "FAILED",
			"error":       attempt.Error,
			"retry_count": attempt.RetryCount,
		})
	if err := e.executions.UpdateStepExecution(ctx, attempt, failLog); err != nil {
		return nil, errors.Wrap(err, "failed to record step failure")
	}
	e.logger.Warn("Step failed", map[string]interface{}{
		"execution_id": execution.ID,
		"step_id":      step.ID,
		"error":        attempt.Error,
		"error_type":   attempt.ErrorType,
	})
	return result, nil
}

// completeWorkflow settles the execution: the attempt with the highest
// retry count per step is the effective one, and any effective failure
// fails the workflow.
func (e *LinearExecutor) completeWorkflow(ctx context.Context, execution *models.WorkflowExecution) error {
	attempts, err := e.executions.ListStepExecutions(ctx, execution.ID)
	if err != nil {
		return errors.Wrap(err, "failed to load step executions")
	}

	effective := make(map[uuid.UUID]*models.StepExecution)
	for _, a := range attempts {
		cur, ok := effective[a.StepID]
		if !ok || a.RetryCount > cur.RetryCount {
			effective[a.StepID] = a
		}
	}

	anyFailed := false
	for _, a := range effective {
		if a.Status == models.StepExecutionFailed {
			anyFailed = true
			break
		}
	}

	if anyFailed {
		if err := execution.TransitionTo(models.WorkflowExecutionFailed); err != nil {
			return err
		}
		failLog := e.workflowLog(execution, "Workflow execution failed", models.JSONMap{
			"workflow_id": execution.WorkflowID.String(),
			"status":      "FAILED",
		})
		if err := e.executions.UpdateWorkflowExecution(ctx, execution, failLog); err != nil {
			return errors.Wrap(err, "failed to complete workflow execution")
		}
		e.logger.Warn("Workflow execution failed", map[string]interface{}{
			"execution_id": execution.ID,
			"workflow_id":  execution.WorkflowID,
		})
		return nil
	}

	if err := execution.TransitionTo(models.WorkflowExecutionSuccess); err != nil {
		return err
	}
	successLog := e.workflowLog(execution, "Workflow execution completed successfully", models.JSONMap{
		"workflow_id": execution.WorkflowID.String(),
		"status":      "SUCCESS",
	})
	if err := e.executions.UpdateWorkflowExecution(ctx, execution, successLog); err != nil {
		return errors.Wrap(err, "failed to complete workflow execution")
	}
	e.logger.Info("Workflow execution completed successfully", map[string]interface{}{
		"execution_id": execution.ID,
		"workflow_id":  execution.WorkflowID,
	})
	return nil
}

func (e *LinearExecutor) stepTimeout(step *models.Step) time.Duration {
	if step.TimeoutSeconds > 0 {
		return time.Duration(step.TimeoutSeconds) * time.Second
	}
	return e.defaultTimeout
}

func (e *LinearExecutor) newAttempt(execution *models.WorkflowExecution, step *models.Step, input models.JSONMap, retryCount int, parentID *uuid.UUID) *models.StepExecution {
	return &models.StepExecution{
		ID:                    uuid.New(),
		WorkflowExecutionID:   execution.ID,
		StepID:                step.ID,
		Status:                models.StepExecutionPending,
		Input:                 input,
		RetryCount:            retryCount,
		IsRetry:               retryCount > 0,
		ParentStepExecutionID: parentID,
		CreatedAt:             time.Now().UTC(),
	}
}

func (e *LinearExecutor) workflowLog(execution *models.WorkflowExecution, message string, metadata models.JSONMap) *models.ExecutionLog {
	return &models.ExecutionLog{
		ID:                  uuid.New(),
		WorkflowExecutionID: execution.ID,
		Message:             message,
		Timestamp:           time.Now().UTC(),
		Metadata:            metadata,
	}
}

func (e *LinearExecutor) stepLog(execution *models.WorkflowExecution, attempt *models.StepExecution, message string, metadata models.JSONMap) *models.ExecutionLog {
	stepExecutionID := attempt.ID
	return &models.ExecutionLog{
		ID:                  uuid.New(),
		WorkflowExecutionID: execution.ID,
		StepExecutionID:     &stepExecutionID,
		Message:             message,
		Timestamp:           time.Now().UTC(),
		Metadata:            metadata,
	}
}

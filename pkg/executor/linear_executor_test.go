package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/repository/memory"
)

// fakeFactory dispatches to per-step stubs by step order, counting
// invocations.
type fakeFactory struct {
	stubs map[int]stepFunc
	calls map[int]int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		stubs: make(map[int]stepFunc),
		calls: make(map[int]int),
	}
}

func (f *fakeFactory) on(order int, fn stepFunc) {
	f.stubs[order] = fn
}

func (f *fakeFactory) Create(step *models.Step) StepExecutor {
	order := step.Order
	return stepFunc(func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		f.calls[order]++
		stub, ok := f.stubs[order]
		if !ok {
			return Success(time.Now().UTC(), input)
		}
		return stub(ctx, input, execCtx)
	})
}

// passthrough succeeds and forwards its input.
func passthrough(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
	return Success(time.Now().UTC(), input)
}

type executorFixture struct {
	workflows  *memory.WorkflowRepository
	executions *memory.ExecutionRepository
	factory    *fakeFactory
	executor   *LinearExecutor
	workflow   *models.Workflow
}

// newFixture creates a workflow with the given steps and an executor with
// sleeping disabled.
func newFixture(t *testing.T, steps ...*models.Step) *executorFixture {
	t.Helper()

	workflows := memory.NewWorkflowRepository()
	executions := memory.NewExecutionRepository()
	factory := newFakeFactory()

	workflow := &models.Workflow{ID: uuid.New(), Name: "test workflow", Version: 1}
	require.NoError(t, workflows.CreateWorkflow(context.Background(), workflow))
	for _, step := range steps {
		step.WorkflowID = workflow.ID
		require.NoError(t, workflows.CreateStep(context.Background(), step))
	}

	exec := NewLinearExecutor(executions, workflows, factory, nil, Config{})
	exec.sleep = func(time.Duration) {}

	return &executorFixture{
		workflows:  workflows,
		executions: executions,
		factory:    factory,
		executor:   exec,
		workflow:   workflow,
	}
}

func step(order int, stepType models.StepType) *models.Step {
	return &models.Step{ID: uuid.New(), Type: stepType, Order: order}
}

func TestExecuteHappyPath(t *testing.T) {
	fix := newFixture(t,
		step(1, models.StepTypeManual),
		step(2, models.StepTypeLogic),
		step(3, models.StepTypeStorage),
	)
	fix.factory.on(2, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		m := map[string]interface{}{"processed": true}
		if in, ok := input.(map[string]interface{}); ok {
			for k, v := range in {
				m[k] = v
			}
		}
		return Success(time.Now().UTC(), m)
	})

	trigger := map[string]interface{}{"user_id": "123", "data": "test"}
	execution, err := fix.executor.Execute(context.Background(), fix.workflow, trigger, "manual")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionSuccess, execution.Status)
	require.NotNil(t, execution.StartedAt)
	require.NotNil(t, execution.FinishedAt)

	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.Equal(t, models.StepExecutionSuccess, a.Status)
		assert.Equal(t, 0, a.RetryCount)
		assert.False(t, a.IsRetry)
		assert.Nil(t, a.ParentStepExecutionID)
	}

	// Data flows: step 1 receives the trigger input, step 2's output feeds
	// step 3.
	assert.Equal(t, models.JSONMap(trigger), attempts[0].Input)
	assert.Equal(t, models.JSONMap(trigger), attempts[0].Output)
	assert.Equal(t, true, attempts[1].Output["processed"])
	assert.Equal(t, attempts[1].Output, attempts[2].Input)

	// Lifecycle logs: started + 3x(step started, step completed) + completed.
	logs, err := fix.executions.ListLogs(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 8)
	assert.Equal(t, "Workflow execution started", logs[0].Message)
	assert.Equal(t, "Workflow execution completed successfully", logs[7].Message)
	assert.Nil(t, logs[0].StepExecutionID)
	assert.NotNil(t, logs[1].StepExecutionID)
	assert.Contains(t, logs[1].Message, "Step started")
	assert.Contains(t, logs[2].Message, "Step completed successfully")
}

func TestExecuteHaltsOnFailure(t *testing.T) {
	fix := newFixture(t,
		step(1, models.StepTypeManual),
		step(2, models.StepTypeAPI),
		step(3, models.StepTypeStorage),
	)
	fix.factory.on(2, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		return Failure(time.Now().UTC(), "FORCED_FAILURE", "This step is designed to fail for testing purposes", models.ErrorTypePermanent)
	})

	execution, err := fix.executor.Execute(context.Background(), fix.workflow, map[string]interface{}{"x": 1}, "")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionFailed, execution.Status)

	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2, "step 3 must not run")
	assert.Equal(t, models.StepExecutionSuccess, attempts[0].Status)
	assert.Equal(t, models.StepExecutionFailed, attempts[1].Status)
	assert.Equal(t, "FORCED_FAILURE: This step is designed to fail for testing purposes", attempts[1].Error)
	assert.Equal(t, models.ErrorTypePermanent, attempts[1].ErrorType)
	assert.Equal(t, 0, fix.factory.calls[3])

	logs, err := fix.executions.ListLogs(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, "Workflow execution failed", logs[len(logs)-1].Message)
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	retryStep := step(2, models.StepTypeAPI)
	retryStep.RetryConfig = &models.RetryConfig{MaxRetries: 2}
	fix := newFixture(t, step(1, models.StepTypeManual), retryStep)

	fix.factory.on(2, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		if execCtx.RetryCount < 2 {
			return Failure(time.Now().UTC(), "TRANSIENT_FAILURE", "simulated", models.ErrorTypeTransient)
		}
		return Success(time.Now().UTC(), map[string]interface{}{"result": "success"})
	})

	execution, err := fix.executor.Execute(context.Background(), fix.workflow, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionSuccess, execution.Status)

	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 4)

	// The chain for step 2: retry counts 0, 1, 2, linked through parents.
	chain := attempts[1:]
	assert.Equal(t, models.StepExecutionFailed, chain[0].Status)
	assert.Equal(t, models.StepExecutionFailed, chain[1].Status)
	assert.Equal(t, models.StepExecutionSuccess, chain[2].Status)
	for i, a := range chain {
		assert.Equal(t, i, a.RetryCount)
		assert.Equal(t, i > 0, a.IsRetry)
	}
	require.NotNil(t, chain[1].ParentStepExecutionID)
	assert.Equal(t, chain[0].ID, *chain[1].ParentStepExecutionID)
	require.NotNil(t, chain[2].ParentStepExecutionID)
	assert.Equal(t, chain[1].ID, *chain[2].ParentStepExecutionID)

	// Retry log events carry the backoff and next attempt number.
	logs, err := fix.executions.ListLogs(context.Background(), execution.ID)
	require.NoError(t, err)
	var retryLogs []string
	for _, l := range logs {
		if strings.HasPrefix(l.Message, "Retrying step") {
			retryLogs = append(retryLogs, l.Message)
		}
	}
	require.Len(t, retryLogs, 2)
	assert.Equal(t, "Retrying step after 1s backoff (attempt 1)", retryLogs[0])
	assert.Equal(t, "Retrying step after 1s backoff (attempt 2)", retryLogs[1])
}

func TestExecuteRetryBudgetExhausted(t *testing.T) {
	retryStep := step(1, models.StepTypeAPI)
	retryStep.RetryConfig = &models.RetryConfig{MaxRetries: 1}
	fix := newFixture(t, retryStep)

	fix.factory.on(1, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		return Failure(time.Now().UTC(), "TRANSIENT_FAILURE", "still down", models.ErrorTypeTransient)
	})

	execution, err := fix.executor.Execute(context.Background(), fix.workflow, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionFailed, execution.Status)

	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, models.StepExecutionFailed, attempts[0].Status)
	assert.Equal(t, models.StepExecutionFailed, attempts[1].Status)
	assert.Equal(t, 1, attempts[1].RetryCount)
}

func TestExecutePermanentFailureIsNotRetried(t *testing.T) {
	retryStep := step(1, models.StepTypeAPI)
	retryStep.RetryConfig = &models.RetryConfig{MaxRetries: 3}
	fix := newFixture(t, retryStep)

	fix.factory.on(1, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		return Failure(time.Now().UTC(), "FORCED_FAILURE", "no", models.ErrorTypePermanent)
	})

	execution, err := fix.executor.Execute(context.Background(), fix.workflow, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionFailed, execution.Status)

	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
	assert.Equal(t, 1, fix.factory.calls[1])
}

func TestExecuteInputSchemaRejectionSkipsStep(t *testing.T) {
	guarded := step(1, models.StepTypeLogic)
	guarded.InputSchema = models.JSONMap{
		"type":     "object",
		"required": []interface{}{"user_id"},
	}
	fix := newFixture(t, guarded)

	execution, err := fix.executor.Execute(context.Background(), fix.workflow,
		map[string]interface{}{"wrong": true}, "")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionFailed, execution.Status)
	assert.Equal(t, 0, fix.factory.calls[1], "the step body must never run")

	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, models.StepExecutionFailed, attempts[0].Status)
	assert.True(t, strings.HasPrefix(attempts[0].Error, "VALIDATION_ERROR: "))
	assert.Equal(t, models.ErrorTypePermanent, attempts[0].ErrorType)
}

func TestExecuteTimeout(t *testing.T) {
	slow := step(1, models.StepTypeLogic)
	slow.TimeoutSeconds = 1
	fix := newFixture(t, slow)

	fix.factory.on(1, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		select {
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
		}
		return Success(time.Now().UTC(), nil)
	})

	start := time.Now()
	execution, err := fix.executor.Execute(context.Background(), fix.workflow, nil, "")
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionFailed, execution.Status)
	assert.Less(t, elapsed, 3*time.Second)

	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, strings.HasPrefix(attempts[0].Error, "TIMEOUT: "))
	assert.Equal(t, models.ErrorTypeTransient, attempts[0].ErrorType)
}

func TestResumeRetriesFailedStepAndContinues(t *testing.T) {
	fix := newFixture(t,
		step(1, models.StepTypeManual),
		step(2, models.StepTypeAPI),
		step(3, models.StepTypeStorage),
	)

	healthy := false
	fix.factory.on(2, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		if !healthy {
			return Failure(time.Now().UTC(), "HTTP_ERROR", "service down", models.ErrorTypeTransient)
		}
		return Success(time.Now().UTC(), map[string]interface{}{"fetched": true})
	})

	trigger := map[string]interface{}{"user_id": "123"}
	execution, err := fix.executor.Execute(context.Background(), fix.workflow, trigger, "")
	require.NoError(t, err)
	require.Equal(t, models.WorkflowExecutionFailed, execution.Status)

	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	failedAttempt := attempts[1]

	healthy = true
	resumed, err := fix.executor.Resume(context.Background(), execution.ID, failedAttempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionSuccess, resumed.Status)

	attempts, err = fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 4, "retry attempt plus the continued step 3")

	retryAttempt := attempts[2]
	assert.Equal(t, failedAttempt.StepID, retryAttempt.StepID)
	assert.Equal(t, 1, retryAttempt.RetryCount)
	assert.True(t, retryAttempt.IsRetry)
	require.NotNil(t, retryAttempt.ParentStepExecutionID)
	assert.Equal(t, failedAttempt.ID, *retryAttempt.ParentStepExecutionID)
	assert.Equal(t, failedAttempt.Input, retryAttempt.Input)
	assert.Equal(t, models.StepExecutionSuccess, retryAttempt.Status)

	assert.Equal(t, models.StepExecutionSuccess, attempts[3].Status, "step 3 ran after the successful retry")

	logs, err := fix.executions.ListLogs(context.Background(), execution.ID)
	require.NoError(t, err)
	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Message)
	}
	assert.Contains(t, messages, "Workflow execution resumed")
	assert.Equal(t, "Workflow execution completed successfully", messages[len(messages)-1])
}

func TestResumeFailedRetryFailsWorkflowAgain(t *testing.T) {
	fix := newFixture(t, step(1, models.StepTypeAPI))
	fix.factory.on(1, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		return Failure(time.Now().UTC(), "HTTP_ERROR", "still down", models.ErrorTypeTransient)
	})

	execution, err := fix.executor.Execute(context.Background(), fix.workflow, nil, "")
	require.NoError(t, err)
	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)

	resumed, err := fix.executor.Resume(context.Background(), execution.ID, attempts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowExecutionFailed, resumed.Status)

	attempts, err = fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2, "a manual retry gets exactly one attempt")
}

func TestResumeRejections(t *testing.T) {
	fix := newFixture(t, step(1, models.StepTypeManual), step(2, models.StepTypeAPI))
	fix.factory.on(2, func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		return Failure(time.Now().UTC(), "HTTP_ERROR", "down", models.ErrorTypeTransient)
	})

	execution, err := fix.executor.Execute(context.Background(), fix.workflow, nil, "")
	require.NoError(t, err)
	attempts, err := fix.executions.ListStepExecutions(context.Background(), execution.ID)
	require.NoError(t, err)
	successAttempt, failedAttempt := attempts[0], attempts[1]

	t.Run("succeeded attempt", func(t *testing.T) {
		_, err := fix.executor.Resume(context.Background(), execution.ID, successAttempt.ID)
		var notAllowed *RetryNotAllowedError
		require.ErrorAs(t, err, &notAllowed)
		assert.Contains(t, notAllowed.Reason, "not in failed state")
	})

	t.Run("attempt from another execution", func(t *testing.T) {
		other, err := fix.executor.Execute(context.Background(), fix.workflow, nil, "")
		require.NoError(t, err)
		_, err = fix.executor.Resume(context.Background(), other.ID, failedAttempt.ID)
		var notAllowed *RetryNotAllowedError
		require.ErrorAs(t, err, &notAllowed)
	})

	t.Run("superseded attempt", func(t *testing.T) {
		// A first resume creates a newer attempt for the step; the original
		// failed attempt can no longer be retried.
		_, err := fix.executor.Resume(context.Background(), execution.ID, failedAttempt.ID)
		require.NoError(t, err)

		_, err = fix.executor.Resume(context.Background(), execution.ID, failedAttempt.ID)
		var notAllowed *RetryNotAllowedError
		require.ErrorAs(t, err, &notAllowed)
		assert.Contains(t, notAllowed.Reason, "newer attempt")
	})
}

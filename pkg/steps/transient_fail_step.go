package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
)

// TransientFailStep fails with a transient error for the first fail_count
// attempts of a step, then succeeds. The attempt number comes from the
// execution context's retry count rather than instance memory, so the
// behavior is durable across the one-instance-per-attempt registry
// contract. It is also the fallback executor for API steps with an unknown
// handler, so a misconfigured API step surfaces as retried transient
// failures instead of wedging the workflow permanently.
type TransientFailStep struct {
	Config models.JSONMap
}

// NewTransientFailStep creates a TransientFailStep.
func NewTransientFailStep(config models.JSONMap) *TransientFailStep {
	return &TransientFailStep{Config: config}
}

// Execute implements executor.StepExecutor.
func (s *TransientFailStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	startedAt := time.Now().UTC()

	failCount := configInt(s.Config, "fail_count", 2)
	attemptNumber := execCtx.RetryCount + 1

	if attemptNumber <= failCount {
		message := fmt.Sprintf(
			"TransientFailStep failed (attempt %d/%d). This is a simulated transient failure. Step ID: %s, Workflow Execution ID: %s",
			attemptNumber, failCount+1, execCtx.StepID, execCtx.WorkflowExecutionID)
		return executor.Failure(startedAt, "TRANSIENT_FAILURE", message, models.ErrorTypeTransient)
	}

	output := map[string]interface{}{
		"result":   "success",
		"attempts": attemptNumber,
		"message":  fmt.Sprintf("Succeeded after %d transient failures", failCount),
	}
	return executor.Success(startedAt, output)
}

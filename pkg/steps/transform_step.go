package steps

import (
	"context"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
)

// TransformStep is the default logic step: a pure transformation that
// stamps the input with processing metadata. A "sleep" config value (in
// seconds) delays the transformation, which the timeout workflows use to
// exercise the deadline harness.
type TransformStep struct {
	Config models.JSONMap
}

// NewTransformStep creates a TransformStep.
func NewTransformStep(config models.JSONMap) *TransformStep {
	return &TransformStep{Config: config}
}

// Execute implements executor.StepExecutor.
func (s *TransformStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	startedAt := time.Now().UTC()

	if sleepSeconds, ok := configFloat(s.Config, "sleep"); ok && sleepSeconds > 0 {
		select {
		case <-time.After(time.Duration(sleepSeconds * float64(time.Second))):
		case <-ctx.Done():
			// The harness reports the timeout; nothing useful to return.
		}
	}

	var output models.JSONMap
	if m, ok := input.(map[string]interface{}); ok {
		output = make(models.JSONMap, len(m)+3)
		for k, v := range m {
			output[k] = v
		}
	} else if m, ok := input.(models.JSONMap); ok {
		output = make(models.JSONMap, len(m)+3)
		for k, v := range m {
			output[k] = v
		}
	} else {
		output = models.JSONMap{"original_input": input}
	}
	output["processed"] = true
	output["processed_at"] = startedAt.Format(time.RFC3339Nano)
	output["workflow_execution_id"] = execCtx.WorkflowExecutionID.String()

	return executor.Success(startedAt, map[string]interface{}(output))
}

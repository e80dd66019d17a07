package steps

import (
	"context"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
)

// FailStep always fails with a permanent FORCED_FAILURE. Workflows use it
// to exercise failure paths and halting behavior.
type FailStep struct {
	Config models.JSONMap
}

// NewFailStep creates a FailStep.
func NewFailStep(config models.JSONMap) *FailStep {
	return &FailStep{Config: config}
}

// Execute implements executor.StepExecutor.
func (s *FailStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	startedAt := time.Now().UTC()
	return executor.Failure(startedAt, "FORCED_FAILURE",
		"This step is designed to fail for testing purposes", models.ErrorTypePermanent)
}

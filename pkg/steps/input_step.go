package steps

import (
	"context"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
)

// InputStep is the manual pass-through step: it returns its input as output
// unchanged. It represents manual user input or data flowing through a
// workflow untouched.
type InputStep struct {
	Config models.JSONMap
}

// NewInputStep creates an InputStep.
func NewInputStep(config models.JSONMap) *InputStep {
	return &InputStep{Config: config}
}

// Execute implements executor.StepExecutor.
func (s *InputStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	startedAt := time.Now().UTC()
	return executor.Success(startedAt, input)
}

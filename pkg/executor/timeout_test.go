package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/flowline/pkg/models"
)

// stepFunc adapts a function to the StepExecutor interface.
type stepFunc func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult

func (f stepFunc) Execute(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
	return f(ctx, input, execCtx)
}

func TestTimeoutHarnessPassesThroughResult(t *testing.T) {
	harness := NewTimeoutHarness()
	step := stepFunc(func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		return Success(time.Now().UTC(), map[string]interface{}{"ok": true})
	})

	result := harness.Run(context.Background(), step, nil, &ExecutionContext{}, time.Second)
	require.True(t, result.IsSuccess())
}

func TestTimeoutHarnessTimesOut(t *testing.T) {
	harness := NewTimeoutHarness()
	step := stepFunc(func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return Success(time.Now().UTC(), nil)
	})

	start := time.Now()
	result := harness.Run(context.Background(), step, nil, &ExecutionContext{}, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.False(t, result.IsSuccess())
	assert.Equal(t, CodeTimeout, result.Error.Code)
	assert.Equal(t, models.ErrorTypeTransient, result.Error.ErrorType)
	assert.True(t, result.Error.Retryable)
	assert.Less(t, elapsed, 3*time.Second, "harness must not wait for the step to finish")
}

func TestTimeoutHarnessRecoversPanic(t *testing.T) {
	harness := NewTimeoutHarness()
	step := stepFunc(func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		panic("boom")
	})

	result := harness.Run(context.Background(), step, nil, &ExecutionContext{}, time.Second)
	require.False(t, result.IsSuccess())
	assert.Equal(t, CodeStepCrash, result.Error.Code)
	assert.Equal(t, models.ErrorTypePermanent, result.Error.ErrorType)
	assert.Contains(t, result.Error.Message, "boom")
}

func TestTimeoutHarnessRejectsNilResult(t *testing.T) {
	harness := NewTimeoutHarness()
	step := stepFunc(func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		return nil
	})

	result := harness.Run(context.Background(), step, nil, &ExecutionContext{}, time.Second)
	require.False(t, result.IsSuccess())
	assert.Equal(t, CodeStepCrash, result.Error.Code)
}

func TestTimeoutHarnessRejectsMalformedResult(t *testing.T) {
	harness := NewTimeoutHarness()
	step := stepFunc(func(ctx context.Context, input interface{}, execCtx *ExecutionContext) *StepResult {
		// Failure without an error violates the result contract.
		return &StepResult{Status: ResultFailure}
	})

	result := harness.Run(context.Background(), step, nil, &ExecutionContext{}, time.Second)
	require.False(t, result.IsSuccess())
	assert.Equal(t, CodeStepCrash, result.Error.Code)
	assert.Contains(t, result.Error.Message, "malformed step result")
}

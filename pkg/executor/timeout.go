package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/flowline/flowline/pkg/models"
)

// TimeoutHarness runs a step call under a wall-clock deadline. The deadline
// holds even for a step stuck in a tight loop: the step runs on its own
// goroutine and the harness stops waiting when the timer fires. The step
// also receives a context with the same deadline so cooperative I/O can cut
// itself short.
type TimeoutHarness struct{}

// NewTimeoutHarness creates a TimeoutHarness.
func NewTimeoutHarness() *TimeoutHarness {
	return &TimeoutHarness{}
}

// Run executes the step with the given timeout. A deadline overrun yields a
// transient TIMEOUT failure whose duration reports the elapsed wall clock up
// to the deadline. A panicking step yields a permanent STEP_CRASH failure.
func (h *TimeoutHarness) Run(ctx context.Context, step StepExecutor, input interface{}, execCtx *ExecutionContext, timeout time.Duration) *StepResult {
	startedAt := time.Now().UTC()

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan *StepResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failure(startedAt, CodeStepCrash, fmt.Sprintf("step panicked: %v", r), models.ErrorTypePermanent)
			}
		}()
		done <- step.Execute(stepCtx, input, execCtx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-done:
		if result == nil {
			return Failure(startedAt, CodeStepCrash, "step returned no result", models.ErrorTypePermanent)
		}
		if err := result.Validate(); err != nil {
			return Failure(startedAt, CodeStepCrash, fmt.Sprintf("malformed step result: %v", err), models.ErrorTypePermanent)
		}
		return result
	case <-timer.C:
		// The goroutine is abandoned; its late result is dropped.
		return Failure(startedAt, CodeTimeout,
			fmt.Sprintf("step exceeded timeout of %s", timeout), models.ErrorTypeTransient)
	}
}

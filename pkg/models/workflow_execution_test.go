package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingExecution() *WorkflowExecution {
	return &WorkflowExecution{
		ID:         uuid.New(),
		WorkflowID: uuid.New(),
		Status:     WorkflowExecutionPending,
	}
}

func TestWorkflowExecutionTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    WorkflowExecutionStatus
		to      WorkflowExecutionStatus
		wantErr bool
	}{
		{"pending to running", WorkflowExecutionPending, WorkflowExecutionRunning, false},
		{"running to success", WorkflowExecutionRunning, WorkflowExecutionSuccess, false},
		{"running to failed", WorkflowExecutionRunning, WorkflowExecutionFailed, false},
		{"running to cancelled", WorkflowExecutionRunning, WorkflowExecutionCancelled, false},
		{"pending to success skips running", WorkflowExecutionPending, WorkflowExecutionSuccess, true},
		{"pending to failed skips running", WorkflowExecutionPending, WorkflowExecutionFailed, true},
		{"success is terminal", WorkflowExecutionSuccess, WorkflowExecutionRunning, true},
		{"failed is terminal", WorkflowExecutionFailed, WorkflowExecutionRunning, true},
		{"cancelled is terminal", WorkflowExecutionCancelled, WorkflowExecutionRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execution := newPendingExecution()
			execution.Status = tt.from

			err := execution.TransitionTo(tt.to)
			if tt.wantErr {
				var invalid *InvalidTransitionError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, tt.from, execution.Status, "status must not change on a refused transition")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.to, execution.Status)
			}
		})
	}
}

func TestWorkflowExecutionTimestamps(t *testing.T) {
	execution := newPendingExecution()
	assert.Nil(t, execution.StartedAt)
	assert.Nil(t, execution.FinishedAt)

	require.NoError(t, execution.TransitionTo(WorkflowExecutionRunning))
	require.NotNil(t, execution.StartedAt)
	assert.Nil(t, execution.FinishedAt)

	startedAt := *execution.StartedAt
	require.NoError(t, execution.TransitionTo(WorkflowExecutionSuccess))
	require.NotNil(t, execution.FinishedAt)
	assert.Equal(t, startedAt, *execution.StartedAt, "started_at is set once")
	assert.False(t, execution.FinishedAt.Before(startedAt))
}

func TestWorkflowExecutionIsTerminal(t *testing.T) {
	for status, terminal := range map[WorkflowExecutionStatus]bool{
		WorkflowExecutionPending:   false,
		WorkflowExecutionRunning:   false,
		WorkflowExecutionSuccess:   true,
		WorkflowExecutionFailed:    true,
		WorkflowExecutionCancelled: true,
	} {
		execution := newPendingExecution()
		execution.Status = status
		assert.Equal(t, terminal, execution.IsTerminal(), "status %s", status)
	}
}

func TestWorkflowExecutionReopen(t *testing.T) {
	execution := newPendingExecution()
	require.NoError(t, execution.TransitionTo(WorkflowExecutionRunning))
	require.NoError(t, execution.TransitionTo(WorkflowExecutionFailed))
	require.NotNil(t, execution.FinishedAt)

	require.NoError(t, execution.Reopen())
	assert.Equal(t, WorkflowExecutionRunning, execution.Status)
	assert.Nil(t, execution.FinishedAt)
	assert.NotNil(t, execution.StartedAt)
}

func TestWorkflowExecutionReopenOnlyFromFailed(t *testing.T) {
	for _, status := range []WorkflowExecutionStatus{
		WorkflowExecutionPending,
		WorkflowExecutionRunning,
		WorkflowExecutionSuccess,
		WorkflowExecutionCancelled,
	} {
		execution := newPendingExecution()
		execution.Status = status

		err := execution.Reopen()
		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid, "status %s", status)
	}
}

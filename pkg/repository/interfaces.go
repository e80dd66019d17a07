// Package repository defines the persistence port the execution core
// requires. Implementations must keep the append-only contract: execution
// history is inserted and amended only while non-terminal, never deleted.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/flowline/flowline/pkg/models"
)

// WorkflowRepository stores workflow definitions and their steps.
type WorkflowRepository interface {
	CreateWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)

	CreateStep(ctx context.Context, step *models.Step) error
	// ListSteps returns the workflow's steps ordered ascending by their
	// declared order.
	ListSteps(ctx context.Context, workflowID uuid.UUID) ([]*models.Step, error)
}

// ExecutionRepository stores execution history. Each Create/Update call
// commits the record change and any accompanying log events in a single
// transaction; that is the engine's commit boundary for one state-machine
// transition.
type ExecutionRepository interface {
	CreateWorkflowExecution(ctx context.Context, execution *models.WorkflowExecution, logs ...*models.ExecutionLog) error
	// UpdateWorkflowExecution amends the mutable fields of a non-terminal
	// execution. Updating a failed execution is permitted only when the
	// new status is running (the resume reopen); any other update of a
	// terminal record fails with ImmutabilityViolationError.
	UpdateWorkflowExecution(ctx context.Context, execution *models.WorkflowExecution, logs ...*models.ExecutionLog) error
	GetWorkflowExecution(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error)

	CreateStepExecution(ctx context.Context, stepExecution *models.StepExecution, logs ...*models.ExecutionLog) error
	// UpdateStepExecution amends a non-terminal attempt. Terminal attempts
	// are immutable without exception.
	UpdateStepExecution(ctx context.Context, stepExecution *models.StepExecution, logs ...*models.ExecutionLog) error
	GetStepExecution(ctx context.Context, id uuid.UUID) (*models.StepExecution, error)
	// ListStepExecutions returns all attempts for an execution ordered by
	// creation time.
	ListStepExecutions(ctx context.Context, workflowExecutionID uuid.UUID) ([]*models.StepExecution, error)

	AppendLog(ctx context.Context, logEvent *models.ExecutionLog) error
	// ListLogs returns the execution's log events ordered by timestamp,
	// ties broken by insertion order.
	ListLogs(ctx context.Context, workflowExecutionID uuid.UUID) ([]*models.ExecutionLog, error)
}

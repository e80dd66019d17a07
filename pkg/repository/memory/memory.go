// Package memory provides in-memory implementations of the repository
// ports. They enforce the same append-only and immutability rules as the
// PostgreSQL implementations and back the executor and API tests, plus
// local runs without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/repository"
)

// WorkflowRepository is an in-memory repository.WorkflowRepository.
type WorkflowRepository struct {
	mu        sync.RWMutex
	workflows map[uuid.UUID]*models.Workflow
	steps     map[uuid.UUID][]*models.Step
	order     []uuid.UUID
}

// NewWorkflowRepository creates an empty in-memory workflow repository.
func NewWorkflowRepository() *WorkflowRepository {
	return &WorkflowRepository{
		workflows: make(map[uuid.UUID]*models.Workflow),
		steps:     make(map[uuid.UUID][]*models.Step),
	}
}

func (r *WorkflowRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	if _, exists := r.workflows[workflow.ID]; exists {
		return repository.ErrDuplicate
	}
	if workflow.Version == 0 {
		workflow.Version = 1
	}
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	copied := *workflow
	copied.Steps = nil
	r.workflows[workflow.ID] = &copied
	r.order = append(r.order, workflow.ID)
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.workflows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *stored
	copied.Steps = r.orderedSteps(id)
	return &copied, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workflows := make([]*models.Workflow, 0, len(r.order))
	for _, id := range r.order {
		copied := *r.workflows[id]
		workflows = append(workflows, &copied)
	}
	return workflows, nil
}

func (r *WorkflowRepository) CreateStep(ctx context.Context, step *models.Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workflows[step.WorkflowID]; !ok {
		return repository.ErrNotFound
	}
	// Same constraint as the unique (workflow_id, step_order) index.
	for _, existing := range r.steps[step.WorkflowID] {
		if existing.Order == step.Order {
			return repository.ErrDuplicate
		}
	}
	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	copied := *step
	r.steps[step.WorkflowID] = append(r.steps[step.WorkflowID], &copied)
	return nil
}

func (r *WorkflowRepository) ListSteps(ctx context.Context, workflowID uuid.UUID) ([]*models.Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.orderedSteps(workflowID), nil
}

func (r *WorkflowRepository) orderedSteps(workflowID uuid.UUID) []*models.Step {
	stored := r.steps[workflowID]
	steps := make([]*models.Step, 0, len(stored))
	for _, s := range stored {
		copied := *s
		steps = append(steps, &copied)
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })
	return steps
}

// ExecutionRepository is an in-memory repository.ExecutionRepository.
type ExecutionRepository struct {
	mu             sync.RWMutex
	executions     map[uuid.UUID]*models.WorkflowExecution
	stepExecutions map[uuid.UUID]*models.StepExecution
	stepOrder      []uuid.UUID
	logs           []*models.ExecutionLog
}

// NewExecutionRepository creates an empty in-memory execution repository.
func NewExecutionRepository() *ExecutionRepository {
	return &ExecutionRepository{
		executions:     make(map[uuid.UUID]*models.WorkflowExecution),
		stepExecutions: make(map[uuid.UUID]*models.StepExecution),
	}
}

func (r *ExecutionRepository) CreateWorkflowExecution(ctx context.Context, execution *models.WorkflowExecution, logs ...*models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	if _, exists := r.executions[execution.ID]; exists {
		return repository.ErrDuplicate
	}
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	copied := *execution
	copied.StepExecutions = nil
	r.executions[execution.ID] = &copied
	r.appendLogs(logs)
	return nil
}

func (r *ExecutionRepository) UpdateWorkflowExecution(ctx context.Context, execution *models.WorkflowExecution, logs ...*models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.executions[execution.ID]
	if !ok {
		return repository.ErrNotFound
	}
	// Terminal records are immutable, except reopening failed -> running.
	if stored.IsTerminal() {
		reopen := stored.Status == models.WorkflowExecutionFailed &&
			execution.Status == models.WorkflowExecutionRunning
		if !reopen {
			return &models.ImmutabilityViolationError{Entity: "WorkflowExecution", ID: execution.ID.String()}
		}
	}

	copied := *execution
	copied.StepExecutions = nil
	r.executions[execution.ID] = &copied
	r.appendLogs(logs)
	return nil
}

func (r *ExecutionRepository) GetWorkflowExecution(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.executions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *ExecutionRepository) CreateStepExecution(ctx context.Context, stepExecution *models.StepExecution, logs ...*models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.executions[stepExecution.WorkflowExecutionID]; !ok {
		return repository.ErrNotFound
	}
	if stepExecution.ID == uuid.Nil {
		stepExecution.ID = uuid.New()
	}
	if _, exists := r.stepExecutions[stepExecution.ID]; exists {
		return repository.ErrDuplicate
	}
	if stepExecution.CreatedAt.IsZero() {
		stepExecution.CreatedAt = time.Now().UTC()
	}

	copied := *stepExecution
	r.stepExecutions[stepExecution.ID] = &copied
	r.stepOrder = append(r.stepOrder, stepExecution.ID)
	r.appendLogs(logs)
	return nil
}

func (r *ExecutionRepository) UpdateStepExecution(ctx context.Context, stepExecution *models.StepExecution, logs ...*models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stepExecutions[stepExecution.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.IsTerminal() {
		return &models.ImmutabilityViolationError{Entity: "StepExecution", ID: stepExecution.ID.String()}
	}

	copied := *stepExecution
	r.stepExecutions[stepExecution.ID] = &copied
	r.appendLogs(logs)
	return nil
}

func (r *ExecutionRepository) GetStepExecution(ctx context.Context, id uuid.UUID) (*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.stepExecutions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (r *ExecutionRepository) ListStepExecutions(ctx context.Context, workflowExecutionID uuid.UUID) ([]*models.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var attempts []*models.StepExecution
	for _, id := range r.stepOrder {
		stored := r.stepExecutions[id]
		if stored.WorkflowExecutionID != workflowExecutionID {
			continue
		}
		copied := *stored
		attempts = append(attempts, &copied)
	}
	sort.SliceStable(attempts, func(i, j int) bool {
		return attempts[i].CreatedAt.Before(attempts[j].CreatedAt)
	})
	return attempts, nil
}

func (r *ExecutionRepository) AppendLog(ctx context.Context, logEvent *models.ExecutionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLogs([]*models.ExecutionLog{logEvent})
	return nil
}

func (r *ExecutionRepository) ListLogs(ctx context.Context, workflowExecutionID uuid.UUID) ([]*models.ExecutionLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var logs []*models.ExecutionLog
	for _, stored := range r.logs {
		if stored.WorkflowExecutionID != workflowExecutionID {
			continue
		}
		copied := *stored
		logs = append(logs, &copied)
	}
	// The slice is already in insertion order; a stable sort on timestamp
	// keeps that order for ties.
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.Before(logs[j].Timestamp)
	})
	return logs, nil
}

func (r *ExecutionRepository) appendLogs(logs []*models.ExecutionLog) {
	for _, logEvent := range logs {
		if logEvent == nil {
			continue
		}
		if logEvent.ID == uuid.Nil {
			logEvent.ID = uuid.New()
		}
		if logEvent.Timestamp.IsZero() {
			logEvent.Timestamp = time.Now().UTC()
		}
		copied := *logEvent
		r.logs = append(r.logs, &copied)
	}
}

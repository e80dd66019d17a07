package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/observability"
	"github.com/flowline/flowline/pkg/repository"
)

// executionRepository implements repository.ExecutionRepository. Updates
// carry their log events in the same transaction, so a state transition and
// its audit trail commit or roll back together.
type executionRepository struct {
	*BaseRepository
}

// NewExecutionRepository creates an execution repository backed by
// PostgreSQL.
func NewExecutionRepository(db *sqlx.DB, logger observability.Logger, tracer observability.StartSpanFunc) repository.ExecutionRepository {
	return &executionRepository{
		BaseRepository: NewBaseRepository(db, logger, tracer, "execution_repository", DefaultBaseRepositoryConfig()),
	}
}

func (r *executionRepository) CreateWorkflowExecution(ctx context.Context, execution *models.WorkflowExecution, logs ...*models.ExecutionLog) error {
	ctx, span := r.tracer(ctx, "ExecutionRepository.CreateWorkflowExecution")
	defer span.End()

	if execution.ID == uuid.Nil {
		execution.ID = uuid.New()
	}
	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	return r.ExecuteQueryWithRetry(ctx, "create_workflow_execution", func(ctx context.Context) error {
		return r.withTx(ctx, func(tx *sqlx.Tx) error {
			query := `
				INSERT INTO workflow_executions (
					id, workflow_id, workflow_version, status, trigger_source,
					started_at, finished_at, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
			_, err := tx.ExecContext(ctx, query,
				execution.ID, execution.WorkflowID, execution.WorkflowVersion,
				execution.Status, execution.TriggerSource,
				execution.StartedAt, execution.FinishedAt, execution.CreatedAt)
			if err != nil {
				span.RecordError(err)
				return r.TranslateError(err, "workflow_execution")
			}
			return r.insertLogs(ctx, tx, logs)
		})
	})
}

// UpdateWorkflowExecution amends a non-terminal execution. The WHERE clause
// enforces terminal immutability in the database itself; the sole carve-out
// is reopening a failed execution to running, which the resume entry point
// uses.
func (r *executionRepository) UpdateWorkflowExecution(ctx context.Context, execution *models.WorkflowExecution, logs ...*models.ExecutionLog) error {
	ctx, span := r.tracer(ctx, "ExecutionRepository.UpdateWorkflowExecution")
	defer span.End()

	return r.ExecuteQueryWithRetry(ctx, "update_workflow_execution", func(ctx context.Context) error {
		return r.withTx(ctx, func(tx *sqlx.Tx) error {
			query := `
				UPDATE workflow_executions
				SET status = $2, started_at = $3, finished_at = $4
				WHERE id = $1
				  AND (status IN ('pending', 'running')
				       OR (status = 'failed' AND $2 = 'running'))`
			res, err := tx.ExecContext(ctx, query,
				execution.ID, execution.Status, execution.StartedAt, execution.FinishedAt)
			if err != nil {
				span.RecordError(err)
				return r.TranslateError(err, "workflow_execution")
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "rows affected")
			}
			if affected == 0 {
				return r.explainMissedUpdate(ctx, tx, "workflow_executions", "WorkflowExecution", execution.ID)
			}
			return r.insertLogs(ctx, tx, logs)
		})
	})
}

func (r *executionRepository) GetWorkflowExecution(ctx context.Context, id uuid.UUID) (*models.WorkflowExecution, error) {
	ctx, span := r.tracer(ctx, "ExecutionRepository.GetWorkflowExecution")
	defer span.End()

	var execution models.WorkflowExecution
	err := r.ExecuteQueryWithRetry(ctx, "get_workflow_execution", func(ctx context.Context) error {
		query := `
			SELECT id, workflow_id, workflow_version, status, trigger_source,
			       started_at, finished_at, created_at
			FROM workflow_executions WHERE id = $1`
		if err := r.db.GetContext(ctx, &execution, query, id); err != nil {
			return r.TranslateError(err, "workflow_execution")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &execution, nil
}

func (r *executionRepository) CreateStepExecution(ctx context.Context, stepExecution *models.StepExecution, logs ...*models.ExecutionLog) error {
	ctx, span := r.tracer(ctx, "ExecutionRepository.CreateStepExecution")
	defer span.End()

	if stepExecution.ID == uuid.Nil {
		stepExecution.ID = uuid.New()
	}
	if stepExecution.CreatedAt.IsZero() {
		stepExecution.CreatedAt = time.Now().UTC()
	}

	return r.ExecuteQueryWithRetry(ctx, "create_step_execution", func(ctx context.Context) error {
		return r.withTx(ctx, func(tx *sqlx.Tx) error {
			query := `
				INSERT INTO step_executions (
					id, workflow_execution_id, step_id, status, input, output,
					error, error_type, retry_count, is_retry, parent_step_execution_id,
					step_metadata, started_at, finished_at, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
			_, err := tx.ExecContext(ctx, query,
				stepExecution.ID, stepExecution.WorkflowExecutionID, stepExecution.StepID,
				stepExecution.Status, stepExecution.Input, stepExecution.Output,
				stepExecution.Error, stepExecution.ErrorType, stepExecution.RetryCount,
				stepExecution.IsRetry, stepExecution.ParentStepExecutionID,
				stepExecution.StepMetadata, stepExecution.StartedAt, stepExecution.FinishedAt,
				stepExecution.CreatedAt)
			if err != nil {
				span.RecordError(err)
				return r.TranslateError(err, "step_execution")
			}
			return r.insertLogs(ctx, tx, logs)
		})
	})
}

// UpdateStepExecution amends a non-terminal attempt. Terminal attempts are
// immutable with no exception: retries create new rows instead.
func (r *executionRepository) UpdateStepExecution(ctx context.Context, stepExecution *models.StepExecution, logs ...*models.ExecutionLog) error {
	ctx, span := r.tracer(ctx, "ExecutionRepository.UpdateStepExecution")
	defer span.End()

	return r.ExecuteQueryWithRetry(ctx, "update_step_execution", func(ctx context.Context) error {
		return r.withTx(ctx, func(tx *sqlx.Tx) error {
			query := `
				UPDATE step_executions
				SET status = $2, input = $3, output = $4, error = $5, error_type = $6,
				    step_metadata = $7, started_at = $8, finished_at = $9
				WHERE id = $1 AND status IN ('pending', 'running')`
			res, err := tx.ExecContext(ctx, query,
				stepExecution.ID, stepExecution.Status, stepExecution.Input,
				stepExecution.Output, stepExecution.Error, stepExecution.ErrorType,
				stepExecution.StepMetadata, stepExecution.StartedAt, stepExecution.FinishedAt)
			if err != nil {
				span.RecordError(err)
				return r.TranslateError(err, "step_execution")
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return errors.Wrap(err, "rows affected")
			}
			if affected == 0 {
				return r.explainMissedUpdate(ctx, tx, "step_executions", "StepExecution", stepExecution.ID)
			}
			return r.insertLogs(ctx, tx, logs)
		})
	})
}

func (r *executionRepository) GetStepExecution(ctx context.Context, id uuid.UUID) (*models.StepExecution, error) {
	ctx, span := r.tracer(ctx, "ExecutionRepository.GetStepExecution")
	defer span.End()

	var stepExecution models.StepExecution
	err := r.ExecuteQueryWithRetry(ctx, "get_step_execution", func(ctx context.Context) error {
		query := `
			SELECT id, workflow_execution_id, step_id, status, input, output,
			       error, error_type, retry_count, is_retry, parent_step_execution_id,
			       step_metadata, started_at, finished_at, created_at
			FROM step_executions WHERE id = $1`
		if err := r.db.GetContext(ctx, &stepExecution, query, id); err != nil {
			return r.TranslateError(err, "step_execution")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stepExecution, nil
}

func (r *executionRepository) ListStepExecutions(ctx context.Context, workflowExecutionID uuid.UUID) ([]*models.StepExecution, error) {
	ctx, span := r.tracer(ctx, "ExecutionRepository.ListStepExecutions")
	defer span.End()

	var stepExecutions []*models.StepExecution
	err := r.ExecuteQueryWithRetry(ctx, "list_step_executions", func(ctx context.Context) error {
		query := `
			SELECT id, workflow_execution_id, step_id, status, input, output,
			       error, error_type, retry_count, is_retry, parent_step_execution_id,
			       step_metadata, started_at, finished_at, created_at
			FROM step_executions
			WHERE workflow_execution_id = $1
			ORDER BY created_at ASC, seq ASC`
		if err := r.db.SelectContext(ctx, &stepExecutions, query, workflowExecutionID); err != nil {
			return r.TranslateError(err, "step_executions")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stepExecutions, nil
}

func (r *executionRepository) AppendLog(ctx context.Context, logEvent *models.ExecutionLog) error {
	ctx, span := r.tracer(ctx, "ExecutionRepository.AppendLog")
	defer span.End()

	return r.ExecuteQueryWithRetry(ctx, "append_log", func(ctx context.Context) error {
		return r.withTx(ctx, func(tx *sqlx.Tx) error {
			return r.insertLogs(ctx, tx, []*models.ExecutionLog{logEvent})
		})
	})
}

func (r *executionRepository) ListLogs(ctx context.Context, workflowExecutionID uuid.UUID) ([]*models.ExecutionLog, error) {
	ctx, span := r.tracer(ctx, "ExecutionRepository.ListLogs")
	defer span.End()

	var logs []*models.ExecutionLog
	err := r.ExecuteQueryWithRetry(ctx, "list_logs", func(ctx context.Context) error {
		// seq breaks timestamp ties by insertion order.
		query := `
			SELECT id, workflow_execution_id, step_execution_id, message, timestamp, metadata
			FROM execution_logs
			WHERE workflow_execution_id = $1
			ORDER BY timestamp ASC, seq ASC`
		if err := r.db.SelectContext(ctx, &logs, query, workflowExecutionID); err != nil {
			return r.TranslateError(err, "execution_logs")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// insertLogs appends log events inside the caller's transaction.
func (r *executionRepository) insertLogs(ctx context.Context, tx *sqlx.Tx, logs []*models.ExecutionLog) error {
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
		query := `
			INSERT INTO execution_logs (
				id, workflow_execution_id, step_execution_id, message, timestamp, metadata
			) VALUES ($1, $2, $3, $4, $5, $6)`
		_, err := tx.ExecContext(ctx, query,
			logEvent.ID, logEvent.WorkflowExecutionID, logEvent.StepExecutionID,
			logEvent.Message, logEvent.Timestamp, logEvent.Metadata)
		if err != nil {
			return r.TranslateError(err, "execution_log")
		}
	}
	return nil
}

// explainMissedUpdate distinguishes a missing row from an immutability
// violation after a guarded UPDATE matched nothing.
func (r *executionRepository) explainMissedUpdate(ctx context.Context, tx *sqlx.Tx, table, entity string, id uuid.UUID) error {
	var exists bool
	query := "SELECT EXISTS (SELECT 1 FROM " + table + " WHERE id = $1)"
	if err := tx.GetContext(ctx, &exists, query, id); err != nil {
		return r.TranslateError(err, entity)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return &models.ImmutabilityViolationError{Entity: entity, ID: id.String()}
}

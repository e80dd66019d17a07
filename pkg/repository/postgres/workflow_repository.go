package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"

	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/observability"
	"github.com/flowline/flowline/pkg/repository"
)

const workflowCacheSize = 256

// workflowRepository implements repository.WorkflowRepository. Workflow
// definitions are immutable once created, so reads go through a small LRU
// cache keyed by id.
type workflowRepository struct {
	*BaseRepository
	cache *lru.Cache[uuid.UUID, *models.Workflow]
}

// NewWorkflowRepository creates a workflow repository backed by PostgreSQL.
func NewWorkflowRepository(db *sqlx.DB, logger observability.Logger, tracer observability.StartSpanFunc) (repository.WorkflowRepository, error) {
	cache, err := lru.New[uuid.UUID, *models.Workflow](workflowCacheSize)
	if err != nil {
		return nil, err
	}
	return &workflowRepository{
		BaseRepository: NewBaseRepository(db, logger, tracer, "workflow_repository", DefaultBaseRepositoryConfig()),
		cache:          cache,
	}, nil
}

func (r *workflowRepository) CreateWorkflow(ctx context.Context, workflow *models.Workflow) error {
	ctx, span := r.tracer(ctx, "WorkflowRepository.CreateWorkflow")
	defer span.End()

	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	if workflow.Version == 0 {
		workflow.Version = 1
	}
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = time.Now().UTC()
	}

	return r.ExecuteQueryWithRetry(ctx, "create_workflow", func(ctx context.Context) error {
		query := `
			INSERT INTO workflows (id, name, version, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5)`
		_, err := r.db.ExecContext(ctx, query,
			workflow.ID, workflow.Name, workflow.Version, workflow.CreatedBy, workflow.CreatedAt)
		if err != nil {
			span.RecordError(err)
			return r.TranslateError(err, "workflow")
		}

		r.logger.Info("Workflow created", map[string]interface{}{
			"workflow_id": workflow.ID.String(),
			"name":        workflow.Name,
			"version":     workflow.Version,
		})
		return nil
	})
}

func (r *workflowRepository) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	ctx, span := r.tracer(ctx, "WorkflowRepository.GetWorkflow")
	defer span.End()

	if cached, ok := r.cache.Get(id); ok {
		return cached, nil
	}

	var workflow models.Workflow
	err := r.ExecuteQueryWithRetry(ctx, "get_workflow", func(ctx context.Context) error {
		query := `
			SELECT id, name, version, created_by, created_at
			FROM workflows WHERE id = $1`
		if err := r.db.GetContext(ctx, &workflow, query, id); err != nil {
			return r.TranslateError(err, "workflow")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	steps, err := r.ListSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	workflow.Steps = steps

	r.cache.Add(id, &workflow)
	return &workflow, nil
}

func (r *workflowRepository) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	ctx, span := r.tracer(ctx, "WorkflowRepository.ListWorkflows")
	defer span.End()

	var workflows []*models.Workflow
	err := r.ExecuteQueryWithRetry(ctx, "list_workflows", func(ctx context.Context) error {
		query := `
			SELECT id, name, version, created_by, created_at
			FROM workflows ORDER BY created_at DESC`
		if err := r.db.SelectContext(ctx, &workflows, query); err != nil {
			return r.TranslateError(err, "workflows")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

func (r *workflowRepository) CreateStep(ctx context.Context, step *models.Step) error {
	ctx, span := r.tracer(ctx, "WorkflowRepository.CreateStep")
	defer span.End()

	if step.ID == uuid.Nil {
		step.ID = uuid.New()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}

	return r.ExecuteQueryWithRetry(ctx, "create_step", func(ctx context.Context) error {
		query := `
			INSERT INTO steps (
				id, workflow_id, type, config, step_order,
				timeout_seconds, input_schema, output_schema, retry_config, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		_, err := r.db.ExecContext(ctx, query,
			step.ID, step.WorkflowID, step.Type, step.Config, step.Order,
			step.TimeoutSeconds, step.InputSchema, step.OutputSchema, step.RetryConfig, step.CreatedAt)
		if err != nil {
			span.RecordError(err)
			return r.TranslateError(err, "step")
		}

		// The cached workflow no longer matches its step list.
		r.cache.Remove(step.WorkflowID)
		return nil
	})
}

func (r *workflowRepository) ListSteps(ctx context.Context, workflowID uuid.UUID) ([]*models.Step, error) {
	ctx, span := r.tracer(ctx, "WorkflowRepository.ListSteps")
	defer span.End()

	var steps []*models.Step
	err := r.ExecuteQueryWithRetry(ctx, "list_steps", func(ctx context.Context) error {
		query := `
			SELECT id, workflow_id, type, config, step_order,
			       timeout_seconds, input_schema, output_schema, retry_config, created_at
			FROM steps WHERE workflow_id = $1 ORDER BY step_order ASC`
		if err := r.db.SelectContext(ctx, &steps, query, workflowID); err != nil {
			return r.TranslateError(err, "steps")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/repository"
)

func TestCreateWorkflowAssignsDefaults(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewWorkflowRepository(db, nil, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO workflows").
		WillReturnResult(sqlmock.NewResult(0, 1))

	workflow := &models.Workflow{Name: "demo", CreatedBy: "tester"}
	require.NoError(t, repo.CreateWorkflow(context.Background(), workflow))
	assert.NotEqual(t, uuid.Nil, workflow.ID)
	assert.Equal(t, 1, workflow.Version)
	assert.False(t, workflow.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateWorkflowDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewWorkflowRepository(db, nil, nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO workflows").
		WillReturnError(&pq.Error{Code: "23505"})

	err = repo.CreateWorkflow(context.Background(), &models.Workflow{Name: "demo"})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestGetWorkflowLoadsStepsAndCaches(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewWorkflowRepository(db, nil, nil)
	require.NoError(t, err)

	workflowID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, name, version, created_by, created_at").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "version", "created_by", "created_at"}).
			AddRow(workflowID, "demo", 1, "tester", now))
	mock.ExpectQuery("SELECT (.+) FROM steps").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "workflow_id", "type", "config", "step_order",
			"timeout_seconds", "input_schema", "output_schema", "retry_config", "created_at",
		}).
			AddRow(uuid.New(), workflowID, "manual", []byte(`{}`), 1, 0, nil, nil, nil, now).
			AddRow(uuid.New(), workflowID, "logic", []byte(`{"sleep": 1}`), 2, 0, nil, nil, nil, now))

	workflow, err := repo.GetWorkflow(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Equal(t, "demo", workflow.Name)
	require.Len(t, workflow.Steps, 2)
	assert.Equal(t, models.StepTypeManual, workflow.Steps[0].Type)
	assert.Equal(t, 2, workflow.Steps[1].Order)

	// Second read is served from the cache: no further SQL expected.
	cached, err := repo.GetWorkflow(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.ID, cached.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkflowNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo, err := NewWorkflowRepository(db, nil, nil)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, name, version, created_by, created_at").
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetWorkflow(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

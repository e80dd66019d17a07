// Command seed inserts the canonical demo workflows: a happy path, a
// failure path, a retry exercise, a weather logger, and a timeout test.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/flowline/flowline/pkg/common/config"
	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/observability"
	"github.com/flowline/flowline/pkg/repository"
	pgrepo "github.com/flowline/flowline/pkg/repository/postgres"
)

type seedStep struct {
	Type           models.StepType
	Config         models.JSONMap
	TimeoutSeconds int
	RetryConfig    *models.RetryConfig
}

type seedWorkflow struct {
	Name      string
	CreatedBy string
	Steps     []seedStep
}

func seedWorkflows() []seedWorkflow {
	return []seedWorkflow{
		{
			Name:      "Workflow — Happy Path",
			CreatedBy: "demo_user",
			Steps: []seedStep{
				{Type: models.StepTypeManual, Config: models.JSONMap{"description": "Accept input data"}},
				{Type: models.StepTypeLogic, Config: models.JSONMap{"description": "Transform the data"}},
				{Type: models.StepTypeStorage, Config: models.JSONMap{"description": "Simulate persistence"}},
			},
		},
		{
			Name:      "Workflow — Failure Path",
			CreatedBy: "demo_user",
			Steps: []seedStep{
				{Type: models.StepTypeManual, Config: models.JSONMap{"description": "Accept input data"}},
				{Type: models.StepTypeAPI, Config: models.JSONMap{"description": "Always fails", "handler": "fail"}},
				{Type: models.StepTypeStorage, Config: models.JSONMap{"description": "Never reached"}},
			},
		},
		{
			Name:      "Workflow — Retry Test",
			CreatedBy: "test_user",
			Steps: []seedStep{
				{Type: models.StepTypeManual, Config: models.JSONMap{"description": "Accept input data"}},
				{
					Type:        models.StepTypeAPI,
					Config:      models.JSONMap{"description": "Fails twice, then succeeds", "fail_count": 2},
					RetryConfig: &models.RetryConfig{MaxRetries: 2},
				},
				{Type: models.StepTypeStorage, Config: models.JSONMap{"description": "Simulate persistence"}},
			},
		},
		{
			Name:      "Workflow — Weather Log",
			CreatedBy: "demo_user",
			Steps: []seedStep{
				{
					Type: models.StepTypeAPI,
					Config: models.JSONMap{
						"description":        "Fetch weather for Paris",
						"handler":            "http",
						"url":                "https://wttr.in/Paris?format=j1",
						"method":             "GET",
						"timeout":            10,
						"headers_from_input": true,
					},
				},
				{
					Type: models.StepTypeLogic,
					Config: models.JSONMap{
						"description": "Format weather data",
						"handler":     "weather_formatter",
					},
				},
				{
					Type: models.StepTypeStorage,
					Config: models.JSONMap{
						"description": "Append to log file",
						"handler":     "file_append",
						"path":        "weather_log.txt",
					},
				},
			},
		},
		{
			Name:      "Workflow — Timeout Test",
			CreatedBy: "test_user",
			Steps: []seedStep{
				{
					Type:           models.StepTypeLogic,
					Config:         models.JSONMap{"description": "Sleep for 5 seconds", "sleep": 5},
					TimeoutSeconds: 2,
				},
			},
		},
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewStandardLogger("seed")
	db, err := sqlx.Connect("postgres", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer func() { _ = db.Close() }()

	workflows, err := pgrepo.NewWorkflowRepository(db, logger, observability.NoopStartSpan)
	if err != nil {
		logger.Fatal("Failed to create workflow repository", map[string]interface{}{
			"error": err.Error(),
		})
	}

	ctx := context.Background()
	for _, seed := range seedWorkflows() {
		if err := createWorkflow(ctx, workflows, seed); err != nil {
			logger.Error("Failed to seed workflow", map[string]interface{}{
				"name":  seed.Name,
				"error": err.Error(),
			})
			os.Exit(1)
		}
		logger.Info("Seeded workflow", map[string]interface{}{
			"name":  seed.Name,
			"steps": len(seed.Steps),
		})
	}
}

func createWorkflow(ctx context.Context, workflows repository.WorkflowRepository, seed seedWorkflow) error {
	workflow := &models.Workflow{
		Name:      seed.Name,
		Version:   1,
		CreatedBy: seed.CreatedBy,
	}
	if err := workflows.CreateWorkflow(ctx, workflow); err != nil {
		return err
	}
	for i, s := range seed.Steps {
		step := &models.Step{
			WorkflowID:     workflow.ID,
			Type:           s.Type,
			Config:         s.Config,
			Order:          i + 1,
			TimeoutSeconds: s.TimeoutSeconds,
			RetryConfig:    s.RetryConfig,
		}
		if err := workflows.CreateStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

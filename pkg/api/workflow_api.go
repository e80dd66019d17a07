package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/repository"
)

// WorkflowAPI handles workflow definition endpoints.
type WorkflowAPI struct {
	workflows repository.WorkflowRepository
}

// NewWorkflowAPI creates a new WorkflowAPI over the given repository.
func NewWorkflowAPI(workflows repository.WorkflowRepository) *WorkflowAPI {
	return &WorkflowAPI{workflows: workflows}
}

// RegisterRoutes registers workflow endpoints under /workflows.
func (w *WorkflowAPI) RegisterRoutes(router *gin.RouterGroup) {
	workflows := router.Group("/workflows")
	workflows.POST("", w.createWorkflow)
	workflows.GET("", w.listWorkflows)
	workflows.GET(":id", w.getWorkflow)
}

// createStepRequest declares one step of a new workflow.
type createStepRequest struct {
	Type           models.StepType     `json:"type" binding:"required"`
	Config         models.JSONMap      `json:"config"`
	Order          int                 `json:"order"`
	TimeoutSeconds int                 `json:"timeout_seconds"`
	InputSchema    models.JSONMap      `json:"input_schema"`
	OutputSchema   models.JSONMap      `json:"output_schema"`
	RetryConfig    *models.RetryConfig `json:"retry_config"`
}

// createWorkflowRequest declares a new workflow with its ordered steps.
type createWorkflowRequest struct {
	Name      string              `json:"name" binding:"required"`
	CreatedBy string              `json:"created_by"`
	Steps     []createStepRequest `json:"steps"`
}

func (w *WorkflowAPI) createWorkflow(c *gin.Context) {
	var req createWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orders := make([]int, len(req.Steps))
	seen := make(map[int]bool, len(req.Steps))
	for i, stepReq := range req.Steps {
		order := stepReq.Order
		if order == 0 {
			order = i + 1
		}
		if order < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "step order must be positive"})
			return
		}
		if seen[order] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "duplicate step order"})
			return
		}
		seen[order] = true
		orders[i] = order
	}

	workflow := &models.Workflow{
		ID:        uuid.New(),
		Name:      req.Name,
		Version:   1,
		CreatedBy: req.CreatedBy,
	}
	if err := w.workflows.CreateWorkflow(c.Request.Context(), workflow); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	for i, stepReq := range req.Steps {
		step := &models.Step{
			ID:             uuid.New(),
			WorkflowID:     workflow.ID,
			Type:           stepReq.Type,
			Config:         stepReq.Config,
			Order:          orders[i],
			TimeoutSeconds: stepReq.TimeoutSeconds,
			InputSchema:    stepReq.InputSchema,
			OutputSchema:   stepReq.OutputSchema,
			RetryConfig:    stepReq.RetryConfig,
		}
		if err := w.workflows.CreateStep(c.Request.Context(), step); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		workflow.Steps = append(workflow.Steps, step)
	}

	c.JSON(http.StatusCreated, workflow)
}

func (w *WorkflowAPI) listWorkflows(c *gin.Context) {
	workflows, err := w.workflows.ListWorkflows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

func (w *WorkflowAPI) getWorkflow(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	workflow, err := w.workflows.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, workflow)
}

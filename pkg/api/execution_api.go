package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/repository"
)

// ExecutionAPI handles workflow execution endpoints: triggering runs,
// inspecting history, and manually retrying failed steps.
type ExecutionAPI struct {
	workflows  repository.WorkflowRepository
	executions repository.ExecutionRepository
	engine     *executor.LinearExecutor
}

// NewExecutionAPI creates a new ExecutionAPI.
func NewExecutionAPI(workflows repository.WorkflowRepository, executions repository.ExecutionRepository, engine *executor.LinearExecutor) *ExecutionAPI {
	return &ExecutionAPI{
		workflows:  workflows,
		executions: executions,
		engine:     engine,
	}
}

// RegisterRoutes registers execution endpoints.
func (e *ExecutionAPI) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/workflows/:id/execute", e.executeWorkflow)

	executions := router.Group("/executions")
	executions.GET(":id", e.getExecution)
	executions.GET(":id/logs", e.listLogs)
	executions.POST(":id/steps/:stepExecutionID/retry", e.retryStep)
}

// executeRequest carries the trigger input for a new run.
type executeRequest struct {
	Input         map[string]interface{} `json:"input"`
	TriggerSource string                 `json:"trigger_source"`
}

func (e *ExecutionAPI) executeWorkflow(c *gin.Context) {
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	workflow, err := e.workflows.GetWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var input interface{}
	if req.Input != nil {
		input = req.Input
	}
	execution, err := e.engine.Execute(c.Request.Context(), workflow, input, req.TriggerSource)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, execution)
}

func (e *ExecutionAPI) getExecution(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}

	execution, err := e.executions.GetWorkflowExecution(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	attempts, err := e.executions.ListStepExecutions(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	execution.StepExecutions = attempts

	c.JSON(http.StatusOK, execution)
}

func (e *ExecutionAPI) listLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}

	if _, err := e.executions.GetWorkflowExecution(c.Request.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	logs, err := e.executions.ListLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func (e *ExecutionAPI) retryStep(c *gin.Context) {
	executionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}
	stepExecutionID, err := uuid.Parse(c.Param("stepExecutionID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid step execution id"})
		return
	}

	execution, err := e.engine.Resume(c.Request.Context(), executionID, stepExecutionID)
	if err != nil {
		var notAllowed *executor.RetryNotAllowedError
		switch {
		case errors.As(err, &notAllowed):
			c.JSON(http.StatusConflict, gin.H{"error": notAllowed.Error()})
		case errors.Is(err, repository.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "execution or step execution not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, execution)
}

// Package steps provides the built-in step executors and the registry that
// maps step declarations to them.
package steps

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
	"github.com/flowline/flowline/pkg/observability"
)

// Registry maps a step declaration to its executor. It implements
// executor.StepFactory and returns a fresh executor per call, so step
// instances never share state across attempts.
//
// Dispatch is by step type, refined by the optional "handler" config key:
//
//	manual           -> InputStep
//	logic            -> TransformStep (handler "weather_formatter" -> WeatherTransformStep)
//	storage          -> PersistStep
//	ai               -> AIStep
//	api              -> HTTPStep for handler "http", FailStep for handler
//	                    "fail", TransientFailStep otherwise
//	anything else    -> a permanently failing executor
type Registry struct {
	logger observability.Logger
	client *http.Client
}

// NewRegistry creates a Registry. Outbound HTTP from API and AI steps shares
// one client.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &Registry{
		logger: logger,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Create implements executor.StepFactory.
func (r *Registry) Create(step *models.Step) executor.StepExecutor {
	handler := step.Handler()

	switch step.Type {
	case models.StepTypeManual:
		return NewInputStep(step.Config)

	case models.StepTypeLogic:
		if handler == "weather_formatter" {
			return NewWeatherTransformStep(step.Config)
		}
		return NewTransformStep(step.Config)

	case models.StepTypeStorage:
		return NewPersistStep(step.Config)

	case models.StepTypeAI:
		return NewAIStep(step.Config, r.client)

	case models.StepTypeAPI:
		switch handler {
		case "http":
			return NewHTTPStep(step.Config, r.client)
		case "fail":
			return NewFailStep(step.Config)
		default:
			return NewTransientFailStep(step.Config)
		}

	default:
		r.logger.Warn("No executor registered for step type", map[string]interface{}{
			"step_id":   step.ID.String(),
			"step_type": string(step.Type),
		})
		return unsupportedStep{stepType: string(step.Type)}
	}
}

// unsupportedStep fails permanently for step types the registry does not
// know. Retrying cannot help, so the error is permanent and the workflow
// halts immediately.
type unsupportedStep struct {
	stepType string
}

func (u unsupportedStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	return executor.Failure(time.Now().UTC(), "UNSUPPORTED_STEP_TYPE",
		fmt.Sprintf("No executor registered for step type: %s", u.stepType), models.ErrorTypePermanent)
}

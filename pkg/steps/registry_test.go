package steps

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline/flowline/pkg/models"
)

func TestRegistryDispatch(t *testing.T) {
	registry := NewRegistry(nil)

	tests := []struct {
		name     string
		stepType models.StepType
		config   models.JSONMap
		wantType interface{}
	}{
		{"manual", models.StepTypeManual, nil, &InputStep{}},
		{"logic default", models.StepTypeLogic, nil, &TransformStep{}},
		{"logic weather formatter", models.StepTypeLogic, models.JSONMap{"handler": "weather_formatter"}, &WeatherTransformStep{}},
		{"storage", models.StepTypeStorage, nil, &PersistStep{}},
		{"ai", models.StepTypeAI, models.JSONMap{"provider": "mock"}, &AIStep{}},
		{"api http", models.StepTypeAPI, models.JSONMap{"handler": "http", "url": "https://example.com"}, &HTTPStep{}},
		{"api fail", models.StepTypeAPI, models.JSONMap{"handler": "fail"}, &FailStep{}},
		{"api unknown handler", models.StepTypeAPI, models.JSONMap{"handler": "whatever"}, &TransientFailStep{}},
		{"api no handler", models.StepTypeAPI, nil, &TransientFailStep{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &models.Step{ID: uuid.New(), Type: tt.stepType, Config: tt.config}
			instance := registry.Create(step)
			assert.IsType(t, tt.wantType, instance)
		})
	}
}

func TestRegistryCreatesFreshInstances(t *testing.T) {
	registry := NewRegistry(nil)
	step := &models.Step{ID: uuid.New(), Type: models.StepTypeManual}

	first := registry.Create(step)
	second := registry.Create(step)
	assert.NotSame(t, first, second)
}

func TestRegistryUnknownTypeFailsPermanently(t *testing.T) {
	registry := NewRegistry(nil)
	step := &models.Step{ID: uuid.New(), Type: models.StepType("teleport")}

	instance := registry.Create(step)
	result := instance.Execute(context.Background(), nil, testExecCtx())
	require.False(t, result.IsSuccess())
	assert.Equal(t, "UNSUPPORTED_STEP_TYPE", result.Error.Code)
	assert.Equal(t, models.ErrorTypePermanent, result.Error.ErrorType)
	assert.Contains(t, result.Error.Message, "teleport")
}

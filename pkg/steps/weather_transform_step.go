package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
)

// WeatherTransformStep formats wttr.in JSON (format=j1) into a
// human-readable log line. It is the "weather_formatter" logic handler.
type WeatherTransformStep struct {
	Config models.JSONMap
}

// NewWeatherTransformStep creates a WeatherTransformStep.
func NewWeatherTransformStep(config models.JSONMap) *WeatherTransformStep {
	return &WeatherTransformStep{Config: config}
}

// Execute implements executor.StepExecutor.
func (s *WeatherTransformStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	startedAt := time.Now().UTC()

	data, ok := input.(map[string]interface{})
	if !ok {
		if jm, isJM := input.(models.JSONMap); isJM {
			data = jm
		} else {
			return executor.Failure(startedAt, "TRANSFORM_ERROR",
				"weather formatter requires a JSON object input", models.ErrorTypePermanent)
		}
	}

	current := firstObject(data, "current_condition")
	temp := stringField(current, "temp_C", "?")
	desc := stringField(firstObject(current, "weatherDesc"), "value", "Unknown")
	humidity := stringField(current, "humidity", "?")
	area := stringField(firstObject(firstObject(data, "nearest_area"), "areaName"), "value", "Unknown Location")

	logLine := fmt.Sprintf("[%s] Weather in %s: %s°C, %s, Humidity: %s%%",
		time.Now().Format(time.RFC3339), area, temp, desc, humidity)

	output := map[string]interface{}{
		"log_line":  logLine,
		"processed": true,
	}
	return executor.Success(startedAt, output)
}

// firstObject returns the first element of a JSON array field when it is an
// object, or nil.
func firstObject(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	list, ok := m[key].([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}
	obj, _ := list[0].(map[string]interface{})
	return obj
}

func stringField(m map[string]interface{}, key, def string) string {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return def
	}
}

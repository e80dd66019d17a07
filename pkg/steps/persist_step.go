package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
)

// PersistStep is the storage step. With handler "file_append" and a "path"
// config it appends the input's log_line (or the whole input as JSON) to
// the file; otherwise it simulates persistence and reports what it would
// have written.
type PersistStep struct {
	Config models.JSONMap
}

// NewPersistStep creates a PersistStep.
func NewPersistStep(config models.JSONMap) *PersistStep {
	return &PersistStep{Config: config}
}

// Execute implements executor.StepExecutor.
func (s *PersistStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	startedAt := time.Now().UTC()

	recordCount := 0
	if input != nil {
		recordCount = 1
	}

	if configString(s.Config, "handler", "") == "file_append" {
		path := configString(s.Config, "path", "")
		if path == "" {
			return executor.Failure(startedAt, "STORAGE_ERROR",
				"file_append storage step requires a 'path' config", models.ErrorTypePermanent)
		}
		if err := appendLine(path, input); err != nil {
			return executor.Failure(startedAt, "STORAGE_ERROR",
				fmt.Sprintf("failed to append to %s: %v", path, err), models.ErrorTypeTransient)
		}
	}

	output := map[string]interface{}{
		"persisted":         true,
		"persisted_at":      startedAt.Format(time.RFC3339Nano),
		"step_execution_id": execCtx.StepExecutionID.String(),
		"record_count":      recordCount,
	}
	return executor.Success(startedAt, output)
}

func appendLine(path string, input interface{}) error {
	line := ""
	if m, ok := input.(map[string]interface{}); ok {
		if s, ok := m["log_line"].(string); ok {
			line = s
		}
	}
	if line == "" {
		raw, err := json.Marshal(input)
		if err != nil {
			return err
		}
		line = string(raw)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = fmt.Fprintln(f, line)
	return err
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StepType classifies a step declaration. The registry dispatches on it.
type StepType string

// Valid step types
const (
	StepTypeManual  StepType = "manual"
	StepTypeAI      StepType = "ai"
	StepTypeAPI     StepType = "api"
	StepTypeLogic   StepType = "logic"
	StepTypeStorage StepType = "storage"
)

// RetryConfig declares bounded retries with a fixed backoff for a step.
// A nil RetryConfig means the step is never retried automatically. A nil
// BackoffSeconds means the default of 1 second; an explicit 0 is honored.
type RetryConfig struct {
	MaxRetries     int  `json:"max_retries"`
	BackoffSeconds *int `json:"backoff_seconds,omitempty"`
}

// Value implements driver.Valuer for RetryConfig
func (c RetryConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner for RetryConfig
func (c *RetryConfig) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return errors.Errorf("unsupported type for RetryConfig: %T", value)
	}
}

// Step is a declarative unit of work inside a workflow. Steps carry
// configuration interpreted by the matching executor; they are not
// executable on their own.
type Step struct {
	ID         uuid.UUID `json:"id" db:"id"`
	WorkflowID uuid.UUID `json:"workflow_id" db:"workflow_id"`
	Type       StepType  `json:"type" db:"type"`
	Config     JSONMap   `json:"config" db:"config"`
	Order      int       `json:"order" db:"step_order"`

	// TimeoutSeconds bounds one attempt's wall clock. Zero means the
	// engine default applies.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" db:"timeout_seconds"`

	InputSchema  JSONMap      `json:"input_schema,omitempty" db:"input_schema"`
	OutputSchema JSONMap      `json:"output_schema,omitempty" db:"output_schema"`
	RetryConfig  *RetryConfig `json:"retry_config,omitempty" db:"retry_config"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Handler returns the config "handler" value, or "" when unset.
func (s *Step) Handler() string {
	if s.Config == nil {
		return ""
	}
	if h, ok := s.Config["handler"].(string); ok {
		return h
	}
	return ""
}

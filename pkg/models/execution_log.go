package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionLog is one structured lifecycle event in the append-only audit
// trail. A nil StepExecutionID marks a workflow-level event.
type ExecutionLog struct {
	ID                  uuid.UUID  `json:"id" db:"id"`
	WorkflowExecutionID uuid.UUID  `json:"workflow_execution_id" db:"workflow_execution_id"`
	StepExecutionID     *uuid.UUID `json:"step_execution_id,omitempty" db:"step_execution_id"`
	Message             string     `json:"message" db:"message"`
	Timestamp           time.Time  `json:"timestamp" db:"timestamp"`
	Metadata            JSONMap    `json:"metadata,omitempty" db:"metadata"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// Workflow is a declarative, versioned definition of an ordered sequence of
// steps. Workflows are never executed directly; the executor runs them
// through WorkflowExecution records.
type Workflow struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Version   int       `json:"version" db:"version"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// Runtime data, loaded separately and ordered by Step.Order
	Steps []*Step `json:"steps,omitempty" db:"-"`
}

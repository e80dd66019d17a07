package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowline/flowline/pkg/models"
)

// SchemaValidator applies a step's declared JSON schemas to its input and
// output. Schema violations are always permanent failures; they are never
// retried.
type SchemaValidator struct{}

// NewSchemaValidator creates a SchemaValidator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// ValidateInput checks the input against the step's input schema. It
// returns nil when the step has no schema or the input conforms; otherwise
// a synthesized VALIDATION_ERROR failure result.
func (v *SchemaValidator) ValidateInput(step *models.Step, input interface{}) *StepResult {
	if len(step.InputSchema) == 0 {
		return nil
	}

	startedAt := time.Now().UTC()
	msg, ok := v.check(step.InputSchema, input)
	if ok {
		return nil
	}
	return Failure(startedAt, CodeValidationError, fmt.Sprintf("input validation failed: %s", msg), models.ErrorTypePermanent)
}

// ValidateOutput checks a success result's output against the step's output
// schema. On violation it rewrites the result to a VALIDATION_ERROR failure,
// preserving the step's timing metadata.
func (v *SchemaValidator) ValidateOutput(step *models.Step, result *StepResult) *StepResult {
	if len(step.OutputSchema) == 0 || !result.IsSuccess() {
		return result
	}

	msg, ok := v.check(step.OutputSchema, result.Output)
	if ok {
		return result
	}

	return &StepResult{
		Status: ResultFailure,
		Error: &StepError{
			Code:      CodeValidationError,
			Message:   fmt.Sprintf("output validation failed: %s", msg),
			Retryable: false,
			ErrorType: models.ErrorTypePermanent,
		},
		Metadata: result.Metadata,
		StepMeta: result.StepMeta,
	}
}

// check runs gojsonschema and flattens violations into one message.
func (v *SchemaValidator) check(schema models.JSONMap, value interface{}) (string, bool) {
	schemaLoader := gojsonschema.NewGoLoader(map[string]interface{}(schema))
	valueLoader := gojsonschema.NewGoLoader(value)

	result, err := gojsonschema.Validate(schemaLoader, valueLoader)
	if err != nil {
		return fmt.Sprintf("invalid schema: %v", err), false
	}
	if result.Valid() {
		return "", true
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return strings.Join(violations, "; "), false
}

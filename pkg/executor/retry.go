package executor

import (
	"time"

	"github.com/flowline/flowline/pkg/models"
)

// defaultBackoff applies when a retry config omits backoff_seconds.
const defaultBackoff = 1 * time.Second

// RetryPolicy decides whether a just-failed attempt gets a successor and
// how long to wait before it. Backoff is fixed per step; no exponential
// growth, no jitter.
type RetryPolicy struct{}

// NewRetryPolicy creates a RetryPolicy.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{}
}

// ShouldRetry reports whether the failed attempt should be retried and the
// backoff to sleep first. Only transient failures of steps with retry
// budget left are retried.
func (p *RetryPolicy) ShouldRetry(step *models.Step, attempt *models.StepExecution, stepErr *StepError) (bool, time.Duration) {
	if stepErr == nil || stepErr.ErrorType != models.ErrorTypeTransient {
		return false, 0
	}
	if step.RetryConfig == nil {
		return false, 0
	}
	if attempt.RetryCount >= step.RetryConfig.MaxRetries {
		return false, 0
	}

	backoff := defaultBackoff
	if step.RetryConfig.BackoffSeconds != nil {
		backoff = time.Duration(*step.RetryConfig.BackoffSeconds) * time.Second
	}
	return true, backoff
}

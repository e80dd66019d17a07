package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/flowline/flowline/pkg/models"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	intPtr := func(v int) *int { return &v }
	transient := &StepError{Code: "TRANSIENT_FAILURE", ErrorType: models.ErrorTypeTransient}
	permanent := &StepError{Code: "FORCED_FAILURE", ErrorType: models.ErrorTypePermanent}

	tests := []struct {
		name        string
		retryConfig *models.RetryConfig
		retryCount  int
		stepErr     *StepError
		wantRetry   bool
		wantBackoff time.Duration
	}{
		{
			name:        "transient with budget",
			retryConfig: &models.RetryConfig{MaxRetries: 2},
			retryCount:  0,
			stepErr:     transient,
			wantRetry:   true,
			wantBackoff: time.Second,
		},
		{
			name:        "transient budget exhausted",
			retryConfig: &models.RetryConfig{MaxRetries: 2},
			retryCount:  2,
			stepErr:     transient,
			wantRetry:   false,
		},
		{
			name:        "permanent never retries",
			retryConfig: &models.RetryConfig{MaxRetries: 5},
			retryCount:  0,
			stepErr:     permanent,
			wantRetry:   false,
		},
		{
			name:        "no retry config",
			retryConfig: nil,
			retryCount:  0,
			stepErr:     transient,
			wantRetry:   false,
		},
		{
			name:        "explicit backoff",
			retryConfig: &models.RetryConfig{MaxRetries: 1, BackoffSeconds: intPtr(5)},
			retryCount:  0,
			stepErr:     transient,
			wantRetry:   true,
			wantBackoff: 5 * time.Second,
		},
		{
			name:        "explicit zero backoff is honored",
			retryConfig: &models.RetryConfig{MaxRetries: 1, BackoffSeconds: intPtr(0)},
			retryCount:  0,
			stepErr:     transient,
			wantRetry:   true,
			wantBackoff: 0,
		},
		{
			name:        "nil error",
			retryConfig: &models.RetryConfig{MaxRetries: 2},
			retryCount:  0,
			stepErr:     nil,
			wantRetry:   false,
		},
	}

	policy := NewRetryPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step := &models.Step{RetryConfig: tt.retryConfig}
			attempt := &models.StepExecution{RetryCount: tt.retryCount}

			retry, backoff := policy.ShouldRetry(step, attempt, tt.stepErr)
			assert.Equal(t, tt.wantRetry, retry)
			if tt.wantRetry {
				assert.Equal(t, tt.wantBackoff, backoff)
			}
		})
	}
}

package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
)

// HTTPStep executes a real HTTP request. It is the "http" handler for API
// steps.
//
// Config:
//
//	url: target URL (required)
//	method: HTTP method, default GET
//	headers: optional headers object
//	timeout: request timeout in seconds, default 10
//	body_from_input: send the step input as a JSON body
//	headers_from_input: merge input["headers"] into the request headers
type HTTPStep struct {
	Config models.JSONMap
	client *http.Client
}

// NewHTTPStep creates an HTTPStep sharing the given client. A nil client
// falls back to a default one.
func NewHTTPStep(config models.JSONMap, client *http.Client) *HTTPStep {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPStep{Config: config, client: client}
}

// Execute implements executor.StepExecutor.
func (s *HTTPStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	startedAt := time.Now().UTC()

	url := configString(s.Config, "url", "")
	if url == "" {
		return executor.Failure(startedAt, "HTTP_ERROR", "Missing URL in step config", models.ErrorTypePermanent)
	}

	method := strings.ToUpper(configString(s.Config, "method", "GET"))
	timeout := time.Duration(configInt(s.Config, "timeout", 10)) * time.Second

	var body io.Reader
	if configBool(s.Config, "body_from_input") && input != nil {
		raw, err := json.Marshal(input)
		if err != nil {
			return executor.Failure(startedAt, "HTTP_ERROR",
				fmt.Sprintf("failed to encode input as JSON body: %v", err), models.ErrorTypePermanent)
		}
		body = bytes.NewReader(raw)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, body)
	if err != nil {
		return executor.Failure(startedAt, "HTTP_ERROR", err.Error(), models.ErrorTypePermanent)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range configMap(s.Config, "headers") {
		if sv, ok := v.(string); ok {
			req.Header.Set(k, sv)
		}
	}
	if configBool(s.Config, "headers_from_input") {
		if m, ok := input.(map[string]interface{}); ok {
			for k, v := range configMapFrom(m, "headers") {
				if sv, ok := v.(string); ok {
					req.Header.Set(k, sv)
				}
			}
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		// Transport errors and deadline overruns are worth retrying.
		return executor.Failure(startedAt, "HTTP_ERROR", err.Error(), models.ErrorTypeTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return executor.Failure(startedAt, "HTTP_ERROR", err.Error(), models.ErrorTypeTransient)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		output := decodeResponse(payload)
		output["_status"] = resp.StatusCode
		return executor.Success(startedAt, map[string]interface{}(output))
	}

	errorType := models.ErrorTypePermanent
	if resp.StatusCode >= 500 {
		errorType = models.ErrorTypeTransient
	}
	return executor.Failure(startedAt, "HTTP_ERROR",
		fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(payload), 200)), errorType)
}

// decodeResponse parses the body as JSON, falling back to a text wrapper.
func decodeResponse(payload []byte) models.JSONMap {
	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return models.JSONMap{"text": string(payload)}
	}
	if m, ok := decoded.(map[string]interface{}); ok {
		return models.JSONMap(m)
	}
	return models.JSONMap{"value": decoded}
}

func configMapFrom(m map[string]interface{}, key string) map[string]interface{} {
	v, _ := m[key].(map[string]interface{})
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

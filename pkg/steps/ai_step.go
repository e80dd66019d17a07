package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/flowline/flowline/pkg/executor"
	"github.com/flowline/flowline/pkg/models"
)

const openAIChatCompletionsURL = "https://api.openai.com/v1/chat/completions"

// AIStep executes a prompt against a configured AI provider and returns
// structured output. AI is treated as an external dependency: failures are
// classified like any other remote call, and guardrails on the output turn
// low-quality responses into permanent failures.
//
// Config:
//
//	provider: "mock" | "openai" (default "mock")
//	model: provider model id (default "mock-1")
//	prompt: static prompt string
//	prompt_template: template with {key} placeholders filled from the input
//	prompt_id, prompt_version: optional prompt registry coordinates
//	temperature, max_tokens: optional model parameters
//	min_text_length, forbidden_phrases: output guardrails
type AIStep struct {
	Config models.JSONMap
	client *http.Client
}

// NewAIStep creates an AIStep sharing the given client.
func NewAIStep(config models.JSONMap, client *http.Client) *AIStep {
	if client == nil {
		client = &http.Client{}
	}
	return &AIStep{Config: config, client: client}
}

// Execute implements executor.StepExecutor.
func (s *AIStep) Execute(ctx context.Context, input interface{}, execCtx *executor.ExecutionContext) *executor.StepResult {
	startedAt := time.Now().UTC()

	provider := configString(s.Config, "provider", "mock")
	model := configString(s.Config, "model", "mock-1")

	prompt, failure := s.buildPrompt(startedAt, input)
	if failure != nil {
		return failure
	}

	switch provider {
	case "mock":
		outputText := "MOCK_RESPONSE: " + prompt
		usage := map[string]interface{}{
			"prompt_tokens":     len(strings.Fields(prompt)),
			"completion_tokens": len(strings.Fields(outputText)),
		}
		if failure := s.applyGuardrails(startedAt, outputText); failure != nil {
			return failure
		}
		return s.success(startedAt, outputText, provider, model, usage)

	case "openai":
		return s.executeOpenAI(ctx, startedAt, prompt, model)

	default:
		return executor.Failure(startedAt, "AI_CONFIG_ERROR",
			fmt.Sprintf("Unknown AI provider: %s", provider), models.ErrorTypePermanent)
	}
}

// buildPrompt resolves the prompt from config, rendering a template against
// the input when no static prompt is declared.
func (s *AIStep) buildPrompt(startedAt time.Time, input interface{}) (string, *executor.StepResult) {
	if prompt := configString(s.Config, "prompt", ""); prompt != "" {
		return prompt, nil
	}

	template := configString(s.Config, "prompt_template", "")
	if template == "" {
		return "", executor.Failure(startedAt, "PROMPT_MISSING",
			"AI step requires 'prompt' or 'prompt_template'", models.ErrorTypePermanent)
	}

	m, ok := input.(map[string]interface{})
	if !ok {
		return "", executor.Failure(startedAt, "PROMPT_INPUT_ERROR",
			"prompt_template requires an object input", models.ErrorTypePermanent)
	}

	rendered := template
	for {
		open := strings.Index(rendered, "{")
		if open < 0 {
			break
		}
		closeIdx := strings.Index(rendered[open:], "}")
		if closeIdx < 0 {
			break
		}
		key := rendered[open+1 : open+closeIdx]
		value, exists := m[key]
		if !exists {
			return "", executor.Failure(startedAt, "PROMPT_FORMAT_ERROR",
				fmt.Sprintf("Missing template key: %q", key), models.ErrorTypePermanent)
		}
		rendered = rendered[:open] + fmt.Sprintf("%v", value) + rendered[open+closeIdx+1:]
	}
	return rendered, nil
}

func (s *AIStep) executeOpenAI(ctx context.Context, startedAt time.Time, prompt, model string) *executor.StepResult {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return executor.Failure(startedAt, "AI_CONFIG_ERROR",
			"OPENAI_API_KEY is not set", models.ErrorTypePermanent)
	}

	payload := map[string]interface{}{
		"model":    model,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	if temperature, ok := configFloat(s.Config, "temperature"); ok {
		payload["temperature"] = temperature
	}
	if maxTokens := configInt(s.Config, "max_tokens", 0); maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return executor.Failure(startedAt, "AI_ERROR", err.Error(), models.ErrorTypePermanent)
	}

	timeout := time.Duration(configInt(s.Config, "timeout", 30)) * time.Second
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, openAIChatCompletionsURL, bytes.NewReader(raw))
	if err != nil {
		return executor.Failure(startedAt, "AI_ERROR", err.Error(), models.ErrorTypePermanent)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return executor.Failure(startedAt, "AI_ERROR",
			fmt.Sprintf("AI execution error: %v", err), models.ErrorTypeTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return executor.Failure(startedAt, "AI_ERROR", err.Error(), models.ErrorTypeTransient)
	}

	if resp.StatusCode >= 400 {
		errorType := models.ErrorTypePermanent
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			errorType = models.ErrorTypeTransient
		}
		return executor.Failure(startedAt, "AI_HTTP_ERROR",
			fmt.Sprintf("OpenAI HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)), errorType)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage map[string]interface{} `json:"usage"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return executor.Failure(startedAt, "AI_ERROR",
			fmt.Sprintf("failed to decode provider response: %v", err), models.ErrorTypeTransient)
	}

	outputText := ""
	if len(decoded.Choices) > 0 {
		outputText = decoded.Choices[0].Message.Content
	}

	if failure := s.applyGuardrails(startedAt, outputText); failure != nil {
		return failure
	}
	return s.success(startedAt, outputText, "openai", model, decoded.Usage)
}

// applyGuardrails rejects outputs that violate the declared quality gates.
// Guardrail violations are permanent: retrying the same prompt is unlikely
// to fix them.
func (s *AIStep) applyGuardrails(startedAt time.Time, outputText string) *executor.StepResult {
	if minLength := configInt(s.Config, "min_text_length", 0); minLength > 0 {
		if len(strings.TrimSpace(outputText)) < minLength {
			return executor.Failure(startedAt, "AI_OUTPUT_INVALID",
				fmt.Sprintf("Output too short (min %d chars)", minLength), models.ErrorTypePermanent)
		}
	}

	lower := strings.ToLower(outputText)
	for _, phrase := range configList(s.Config, "forbidden_phrases") {
		p, ok := phrase.(string)
		if !ok {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return executor.Failure(startedAt, "AI_OUTPUT_INVALID",
				fmt.Sprintf("Output contains forbidden phrase: %s", p), models.ErrorTypePermanent)
		}
	}
	return nil
}

func (s *AIStep) success(startedAt time.Time, outputText, provider, model string, usage map[string]interface{}) *executor.StepResult {
	aiMeta := models.JSONMap{
		"provider":       provider,
		"model":          model,
		"prompt_id":      configString(s.Config, "prompt_id", ""),
		"prompt_version": configString(s.Config, "prompt_version", ""),
		"usage":          usage,
	}

	result := executor.Success(startedAt, map[string]interface{}{
		"text":     outputText,
		"_ai_meta": map[string]interface{}(aiMeta),
	})
	result.StepMeta = aiMeta
	return result
}

package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/runward-io/runward/internal/types"
)

// AIDefaults configure the model backend used when a step does not
// override them.
type AIDefaults struct {
	BackendURL string
	Model      string
	Timeout    time.Duration
}

// AIExecutor sends a prompt plus execution context to a model backend.
// Success if a response comes back; backend errors and timeouts are
// failures. Output is the response text.
type AIExecutor struct {
	Client   *http.Client
	Defaults AIDefaults
}

// NewAIExecutor creates an AIExecutor.
func NewAIExecutor(defaults AIDefaults) *AIExecutor {
	return &AIExecutor{Client: &http.Client{}, Defaults: defaults}
}

func (e *AIExecutor) Type() types.StepType { return types.StepAI }

type aiRequest struct {
	Model  string         `json:"model,omitempty"`
	Prompt string         `json:"prompt"`
	Vars   map[string]any `json:"context,omitempty"`
}

type aiResponse struct {
	Response string `json:"response"`
}

func (e *AIExecutor) Execute(ctx context.Context, step *types.Step, ec *Context) Result {
	cfg := step.AI
	if cfg == nil {
		return Failure(fmt.Errorf("ai step %s missing config", step.ID))
	}

	backend := cfg.BackendURL
	if backend == "" {
		backend = e.Defaults.BackendURL
	}
	if backend == "" {
		return Failure(fmt.Errorf("no model backend configured"))
	}
	model := cfg.Model
	if model == "" {
		model = e.Defaults.Model
	}

	prompt, err := ec.Substitute(cfg.Prompt)
	if err != nil {
		return Failure(fmt.Errorf("resolving prompt: %w", err))
	}

	timeout := e.Defaults.Timeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload, err := json.Marshal(aiRequest{
		Model:  model,
		Prompt: prompt,
		Vars:   ec.Variables,
	})
	if err != nil {
		return Failure(fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, backend, bytes.NewReader(payload))
	if err != nil {
		return Failure(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKeySecret != "" {
		key, ok := ec.Secrets[cfg.APIKeySecret]
		if !ok {
			return Failure(fmt.Errorf("api key secret %s not resolved", cfg.APIKeySecret))
		}
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return Failure(fmt.Errorf("backend request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Failure(fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Failure(fmt.Errorf("backend returned status %d", resp.StatusCode))
	}

	// Prefer the {"response": ...} envelope; fall back to the raw body.
	var parsed aiResponse
	text := string(body)
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Response != "" {
		text = parsed.Response
	}

	return Success(map[string]any{
		"response": text,
		"model":    model,
	})
}

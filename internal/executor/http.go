package executor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/runward-io/runward/internal/types"
)

// maxResponseBytes bounds how much of a response body is captured as
// step output.
const maxResponseBytes = 1 << 20

// HTTPExecutor issues a request per method/url/headers/body. Success
// iff the response status is in the configured expected set (default
// [200]). Network and timeout errors are failures.
type HTTPExecutor struct {
	Client *http.Client
}

// NewHTTPExecutor creates an HTTPExecutor with a default client.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{Client: &http.Client{}}
}

func (e *HTTPExecutor) Type() types.StepType { return types.StepHTTP }

func (e *HTTPExecutor) Execute(ctx context.Context, step *types.Step, ec *Context) Result {
	cfg := step.HTTP
	if cfg == nil {
		return Failure(fmt.Errorf("http step %s missing config", step.ID))
	}

	url, err := ec.Substitute(cfg.URL)
	if err != nil {
		return Failure(fmt.Errorf("resolving url: %w", err))
	}
	body, err := ec.Substitute(cfg.Body)
	if err != nil {
		return Failure(fmt.Errorf("resolving body: %w", err))
	}
	headers, err := ec.SubstituteMap(cfg.Headers)
	if err != nil {
		return Failure(fmt.Errorf("resolving headers: %w", err))
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return Failure(fmt.Errorf("building request: %w", err))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return Failure(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Failure(fmt.Errorf("reading response: %w", err))
	}

	output := map[string]any{
		"status": resp.StatusCode,
		"body":   string(respBody),
	}
	if !cfg.StatusExpected(resp.StatusCode) {
		return Result{
			Outcome: OutcomeFailure,
			Output:  output,
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return Success(output)
}

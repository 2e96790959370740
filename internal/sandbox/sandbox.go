// Package sandbox runs generated analysis scripts against uploaded files in
// an isolated execution service. The tabular extraction tiers depend on it.
package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/resilience"
)

// Result is the outcome of one sandboxed execution.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Succeeded reports whether the script exited cleanly with output.
func (r *Result) Succeeded() bool {
	return r.ExitCode == 0 && r.Stdout != ""
}

// Runner executes a script with one attached input file.
type Runner interface {
	Execute(ctx context.Context, script string, filename string, file []byte) (*Result, error)
}

// HTTPRunner implements Runner against an HTTP execution service.
type HTTPRunner struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPRunner creates a Runner for the given service endpoint.
func NewHTTPRunner(endpoint, apiKey string, timeout time.Duration) *HTTPRunner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPRunner{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type executeRequest struct {
	Script   string `json:"script"`
	Filename string `json:"filename"`
	FileB64  string `json:"file_b64"`
}

func (r *HTTPRunner) Execute(ctx context.Context, script string, filename string, file []byte) (*Result, error) {
	body, err := json.Marshal(executeRequest{
		Script:   script,
		Filename: filename,
		FileB64:  base64.StdEncoding.EncodeToString(file),
	})
	if err != nil {
		return nil, eris.Wrap(err, "sandbox: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "sandbox: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "sandbox: execute call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "sandbox: read response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("sandbox: service returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "sandbox: unmarshal response")
	}
	return &result, nil
}

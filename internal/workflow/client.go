package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Result codes returned by the workflow engine. The engine speaks
// stringified HTTP-style statuses rather than transport status codes.
const (
	CodeOK             = "200"
	CodeConfirmZeroQty = "401"
	CodeAuthExpired    = "403"
	CodeForceComplete  = "406"
)

// Result is the engine's verdict for one invocation.
type Result struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// OK reports whether the workflow committed.
func (r Result) OK() bool { return r.Code == CodeOK }

// NeedsConfirmation reports whether the engine paused waiting for an
// operator decision that a retry with the matching flag can answer.
func (r Result) NeedsConfirmation() bool {
	switch r.Code {
	case CodeConfirmZeroQty, CodeAuthExpired, CodeForceComplete:
		return true
	}
	return false
}

// Request is the invocation payload. Flags carry per-retry confirmations
// such as "commit zero-quantity lines" or "force complete picking".
type Request struct {
	WorkflowID string          `json:"workflow_id"`
	DocumentID string          `json:"document_id"`
	Payload    map[string]any  `json:"payload,omitempty"`
	Flags      map[string]bool `json:"flags,omitempty"`
}

// Invoker runs server-side workflow processes by id.
type Invoker interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Instrumented decorates an Invoker and reports every verdict.
type Instrumented struct {
	Next    Invoker
	Observe func(workflowID, code string)
}

// Run delegates to the wrapped invoker.
func (i Instrumented) Run(ctx context.Context, req Request) (Result, error) {
	res, err := i.Next.Run(ctx, req)
	if i.Observe != nil && err == nil {
		i.Observe(req.WorkflowID, res.Code)
	}
	return res, err
}

// Client wraps interactions with the workflow engine API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks if the workflow engine is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/health", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("workflow engine returned status %d", resp.StatusCode)
	}
	return nil
}

// Run invokes the named workflow and decodes the engine's verdict. The
// transport layer succeeding with a non-200 body code is not a Go error;
// callers branch on Result.Code.
func (c *Client) Run(ctx context.Context, r Request) (Result, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/workflows/%s/run", c.baseURL, r.WorkflowID), bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return Result{}, fmt.Errorf("workflow run failed with status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("decode workflow result: %w", err)
	}
	return out, nil
}

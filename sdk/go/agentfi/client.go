// Package agentfi provides a thin Go client for the AgentFi Mesh REST API.
package agentfi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentFi Mesh REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

// RunRequest is the payload required to submit a workflow run.
type RunRequest struct {
	ID         string         `json:"id,omitempty"`
	TemplateID string         `json:"template_id"`
	Task       string         `json:"task"`
	Params     map[string]any `json:"params,omitempty"`
}

// StepResult mirrors the per-step view returned by the API.
type StepResult struct {
	StepID     string         `json:"step_id"`
	Name       string         `json:"name"`
	Capability string         `json:"capability"`
	State      string         `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// RunResult mirrors the workflow result embedded in a run record.
type RunResult struct {
	RunID        string                    `json:"run_id"`
	TemplateID   string                    `json:"template_id"`
	Status       string                    `json:"status"`
	Steps        []StepResult              `json:"steps"`
	FailedSteps  []string                  `json:"failed_steps,omitempty"`
	SkippedSteps []string                  `json:"skipped_steps,omitempty"`
	Outputs      map[string]map[string]any `json:"outputs,omitempty"`
}

// Run is a workflow run record.
type Run struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"template_id"`
	Task       string         `json:"task"`
	Params     map[string]any `json:"params,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Result     *RunResult     `json:"result,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Template summarizes a registered workflow template.
type Template struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	StepCount    int      `json:"step_count"`
	Capabilities []string `json:"capabilities"`
}

// NonceState mirrors the diagnostics snapshot for a (chain, address) pair.
type NonceState struct {
	Chain      string   `json:"chain"`
	Address    string   `json:"address"`
	Confirmed  uint64   `json:"confirmed_nonce"`
	Pending    uint64   `json:"pending_nonce"`
	InFlight   []uint64 `json:"pending_tx_nonces"`
	LastSyncAt string   `json:"last_sync_at"`
}

// NonceGaps lists nonce holes that require operator attention.
type NonceGaps struct {
	Chain   string   `json:"chain"`
	Address string   `json:"address"`
	Gaps    []uint64 `json:"gaps"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentfi api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentfi api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentFi Mesh API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL, apiKey string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, apiKey: apiKey}, nil
}

// SubmitRun submits a workflow run for asynchronous execution.
func (c *Client) SubmitRun(ctx context.Context, req RunRequest) (Run, error) {
	var out Run
	if err := c.post(ctx, "/api/v1/runs", req, &out); err != nil {
		return Run{}, err
	}
	return out, nil
}

// GetRun fetches a run record by identifier.
func (c *Client) GetRun(ctx context.Context, id string) (Run, error) {
	var out Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &out); err != nil {
		return Run{}, err
	}
	return out, nil
}

// ListRuns returns the most recently updated runs.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	endpoint := "/api/v1/runs"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var out struct {
		Runs []Run `json:"runs"`
	}
	if err := c.get(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

// ListTemplates returns the registered workflow templates.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var out struct {
		Templates []Template `json:"templates"`
	}
	if err := c.get(ctx, "/api/v1/templates", &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

// GetNonceGaps reports missing nonces for the given signer.
func (c *Client) GetNonceGaps(ctx context.Context, chain, address string) (NonceGaps, error) {
	endpoint := fmt.Sprintf("/api/v1/nonce/gaps?chain=%s&address=%s",
		url.QueryEscape(chain), url.QueryEscape(address))
	var out NonceGaps
	if err := c.get(ctx, endpoint, &out); err != nil {
		return NonceGaps{}, err
	}
	return out, nil
}

// ResetNonce discards the tracked nonce state and forces a chain resync.
func (c *Client) ResetNonce(ctx context.Context, chain, address string) (NonceState, error) {
	payload := map[string]string{"chain": chain, "address": address}
	var out NonceState
	if err := c.post(ctx, "/api/v1/nonce/reset", payload, &out); err != nil {
		return NonceState{}, err
	}
	return out, nil
}

// WaitForRun polls the run until it reaches a terminal status.
func (c *Client) WaitForRun(ctx context.Context, id string, interval time.Duration) (Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := c.GetRun(ctx, id)
		if err != nil {
			return Run{}, err
		}
		switch record.Status {
		case "completed", "partial_failure", "failed":
			return record, nil
		}
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

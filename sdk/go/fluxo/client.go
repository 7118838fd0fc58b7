// Package fluxo is a small Go client for the fluxod REST API.
package fluxo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Task states.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusSuccess    = "SUCCESS"
	StatusFailure    = "FAILURE"
)

// Client wraps the HTTP interactions with a fluxod server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// TaskSummary is returned when a task is accepted.
type TaskSummary struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// Task is the full view of a background task.
type Task struct {
	TaskID     string          `json:"task_id"`
	Job        string          `json:"job"`
	Args       json.RawMessage `json:"args,omitempty"`
	Status     string          `json:"status"`
	Progress   int             `json:"progress,omitempty"`
	StatusText string          `json:"status_text,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	CreatedAt  int64           `json:"created_at"`
	UpdatedAt  int64           `json:"updated_at"`
}

// Done reports whether the task reached SUCCESS or FAILURE.
func (t Task) Done() bool { return t.Status == StatusSuccess || t.Status == StatusFailure }

// Stats aggregates task counts per status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Processing      int   `json:"processing"`
	Success         int   `json:"success"`
	Failure         int   `json:"failure"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListFilter narrows List and Stats. Zero values are omitted.
type ListFilter struct {
	Status    string
	Job       string
	Query     string
	HasResult *bool
	Order     string
	Limit     int
	Offset    int
}

func (f ListFilter) values() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("status", f.Status)
	set("job", f.Job)
	set("q", f.Query)
	set("order", f.Order)
	if f.HasResult != nil {
		v.Set("has_result", strconv.FormatBool(*f.HasResult))
	}
	if f.Limit > 0 {
		v.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		v.Set("offset", strconv.Itoa(f.Offset))
	}
	return v
}

// APIError represents a non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error_code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("fluxo api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("fluxo api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client. When httpClient is nil a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("fluxo: base url must be absolute")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SubmitTask enqueues a job. args may be nil.
func (c *Client) SubmitTask(ctx context.Context, job string, args any) (TaskSummary, error) {
	body := map[string]any{"job": job}
	if args != nil {
		body["args"] = args
	}
	var summary TaskSummary
	if err := c.send(ctx, http.MethodPost, "/api/v1/tasks", nil, body, &summary); err != nil {
		return TaskSummary{}, err
	}
	return summary, nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	if err := c.send(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(taskID), nil, nil, &t); err != nil {
		return Task{}, err
	}
	return t, nil
}

// ListTasks returns the tasks matching filter.
func (c *Client) ListTasks(ctx context.Context, filter ListFilter) ([]Task, error) {
	var tasks []Task
	if err := c.send(ctx, http.MethodGet, "/api/v1/tasks", filter.values(), nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TaskStats returns aggregated counts for filter.
func (c *Client) TaskStats(ctx context.Context, filter ListFilter) (Stats, error) {
	var stats Stats
	if err := c.send(ctx, http.MethodGet, "/api/v1/tasks/stats", filter.values(), nil, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// WaitForTask polls until the task is done or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t, err := c.GetTask(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if t.Done() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Publish sends a raw JSON payload to an agent channel.
func (c *Client) Publish(ctx context.Context, channel string, payload json.RawMessage) error {
	return c.send(ctx, http.MethodPost, "/api/v1/channels/"+url.PathEscape(channel), nil, payload, nil)
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.send(ctx, http.MethodGet, "/health", nil, nil, nil)
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(rel).String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

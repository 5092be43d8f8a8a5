package civiclinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Civicline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Request represents the API citizen request model (partial).
type Request struct {
	ID                   string  `json:"id"`
	Subject              string  `json:"subject"`
	Description          string  `json:"description,omitempty"`
	Status               string  `json:"status"`
	Priority             string  `json:"priority,omitempty"`
	AssignedDepartmentID *string `json:"assigned_department_id,omitempty"`
	AssignedPositionID   *string `json:"assigned_position_id,omitempty"`
	AIProcessed          bool    `json:"aiProcessed"`
	AIClassification     string  `json:"aiClassification,omitempty"`
	AISuggestion         string  `json:"aiSuggestion,omitempty"`
	Summary              string  `json:"summary,omitempty"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// Activity represents one audit log entry.
type Activity struct {
	ID          int64          `json:"id"`
	Action      string         `json:"action"`
	RelatedID   string         `json:"related_id,omitempty"`
	RelatedType string         `json:"related_type"`
	ActorID     string         `json:"actor_id"`
	Payload     map[string]any `json:"payload"`
	TS          string         `json:"ts"`
}

// RouteResult is the outcome of a routing evaluation.
type RouteResult struct {
	Request  Request `json:"request"`
	Decision struct {
		Assigned     bool    `json:"assigned"`
		RuleID       string  `json:"rule_id,omitempty"`
		DepartmentID string  `json:"department_id,omitempty"`
		PositionID   *string `json:"position_id,omitempty"`
	} `json:"decision"`
}

// ProcessResult is the outcome of a single agent invocation.
type ProcessResult struct {
	Result struct {
		RequestID string `json:"requestId"`
		Success   bool   `json:"success"`
		Skipped   bool   `json:"skipped,omitempty"`
		Error     string `json:"error,omitempty"`
	} `json:"result"`
	Request Request `json:"request"`
}

// BatchReport mirrors the batch processing report shape.
type BatchReport struct {
	ProcessedCount struct {
		Success int `json:"success"`
		Error   int `json:"error"`
	} `json:"processedCount"`
	Results []struct {
		RequestID string   `json:"requestId"`
		Success   bool     `json:"success"`
		Skipped   bool     `json:"skipped,omitempty"`
		Actions   []string `json:"actions,omitempty"`
		Error     string   `json:"error,omitempty"`
	} `json:"results"`
	Summary struct {
		Total     int      `json:"total"`
		Processed int      `json:"processed"`
		Succeeded int      `json:"succeeded"`
		Failed    int      `json:"failed"`
		TimeStamp string   `json:"timeStamp"`
		Actions   []string `json:"actions"`
		AgentID   string   `json:"agentId"`
		AgentName string   `json:"agentName"`
	} `json:"summary"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRequest creates a citizen request.
func (c *Client) CreateRequest(ctx context.Context, subject, description string) (Request, error) {
	body := map[string]any{
		"subject":     subject,
		"description": description,
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, "v0/requests", body, &resp)
	return resp, err
}

// GetRequest fetches a request by id.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListRequests returns requests, optionally filtered by status.
func (c *Client) ListRequests(ctx context.Context, status string, limit int) ([]Request, error) {
	endpoint := "v0/requests"
	var params []string
	if status != "" {
		params = append(params, "status="+url.QueryEscape(status))
	}
	if limit > 0 {
		params = append(params, fmt.Sprintf("limit=%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + strings.Join(params, "&")
	}
	var resp []Request
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition moves a request to a new lifecycle status.
func (c *Client) Transition(ctx context.Context, id, status string) (Request, error) {
	var resp Request
	endpoint := fmt.Sprintf("v0/requests/%s/transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Route evaluates the routing rules against a request.
func (c *Client) Route(ctx context.Context, id string) (RouteResult, error) {
	var resp RouteResult
	endpoint := fmt.Sprintf("v0/requests/%s/route", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Process runs one agent invocation against a request.
func (c *Client) Process(ctx context.Context, id, agentID, actionType string, force bool) (ProcessResult, error) {
	body := map[string]any{
		"agent_id":        agentID,
		"action_type":     actionType,
		"force_reprocess": force,
	}
	var resp ProcessResult
	endpoint := fmt.Sprintf("v0/requests/%s/process", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ProcessBatch processes several requests with one agent.
func (c *Client) ProcessBatch(ctx context.Context, requestIDs []string, agentID string, force bool) (BatchReport, error) {
	body := map[string]any{
		"request_ids":     requestIDs,
		"agent_id":        agentID,
		"force_reprocess": force,
	}
	var resp BatchReport
	err := c.do(ctx, http.MethodPost, "v0/requests/process-batch", body, &resp)
	return resp, err
}

// Activities returns recent audit activities for an entity.
func (c *Client) Activities(ctx context.Context, relatedType, relatedID string, limit int) ([]Activity, error) {
	endpoint := "v0/activities"
	var params []string
	if relatedType != "" {
		params = append(params, "related_type="+url.QueryEscape(relatedType))
	}
	if relatedID != "" {
		params = append(params, "related_id="+url.QueryEscape(relatedID))
	}
	if limit > 0 {
		params = append(params, fmt.Sprintf("limit=%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + strings.Join(params, "&")
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

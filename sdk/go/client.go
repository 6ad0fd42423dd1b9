package prodlinesdk

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

// Client is a minimal Prodline HTTP API client.
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

// Plan represents the API plan model.
type Plan struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Quantity   float64 `json:"quantity"`
	DefectRate float64 `json:"defect_rate"`
	LaunchedAt *string `json:"launched_at,omitempty"`
}

// Node represents one operation inside a plan's DAG (partial).
type Node struct {
	ID            string  `json:"id"`
	PlanID        string  `json:"plan_id"`
	Name          string  `json:"name"`
	OperationID   string  `json:"operation_id"`
	NominalTime   float64 `json:"nominal_time"`
	EffectiveTime float64 `json:"effective_time"`
}

// Assignment is a scheduled unit of work.
type Assignment struct {
	ID             string  `json:"id"`
	PlanID         string  `json:"plan_id"`
	NodeID         string  `json:"node_id"`
	WorkerID       string  `json:"worker_id"`
	SubstationID   string  `json:"substation_id"`
	Status         string  `json:"status"`
	EstimatedStart string  `json:"estimated_start"`
	EstimatedEnd   string  `json:"estimated_end"`
	SequenceNumber int     `json:"sequence_number"`
	StartedAt      *string `json:"started_at,omitempty"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

// QueueItem is an assignment as seen from a worker's queue.
type QueueItem struct {
	Assignment
	NodeName  string `json:"node_name"`
	Startable bool   `json:"startable"`
}

// LaunchResult is the scheduling outcome for a whole plan.
type LaunchResult struct {
	PlanID     string `json:"plan_id"`
	Status     string `json:"status"`
	LaunchedAt string `json:"launched_at"`
	Summary    struct {
		TotalNodes        int     `json:"total_nodes"`
		AssignedNodes     int     `json:"assigned_nodes"`
		TotalWorkers      int     `json:"total_workers"`
		TotalSubstations  int     `json:"total_substations"`
		EstimatedStart    string  `json:"estimated_start_time"`
		EstimatedEnd      string  `json:"estimated_end_time"`
		EstimatedDuration float64 `json:"estimated_duration_minutes"`
	} `json:"summary"`
	QueuedTasks int             `json:"queued_tasks"`
	Warnings    *LaunchWarnings `json:"warnings,omitempty"`
}

// LaunchWarnings carries non-blocking launch findings.
type LaunchWarnings struct {
	Materials []MaterialWarning `json:"materials"`
}

// MaterialWarning flags projected stock shortages.
type MaterialWarning struct {
	NodeNames    []string `json:"node_names"`
	MaterialCode string   `json:"material_code"`
	Required     float64  `json:"required"`
	Available    float64  `json:"available"`
	Shortage     float64  `json:"shortage"`
	Unit         string   `json:"unit"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	PlanID     string `json:"plan_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePlan creates a draft plan.
func (c *Client) CreatePlan(ctx context.Context, name string, quantity float64) (Plan, error) {
	body := map[string]any{
		"name":     name,
		"quantity": quantity,
	}
	var resp Plan
	err := c.do(ctx, http.MethodPost, "v0/plans", body, &resp)
	return resp, err
}

// GetPlan fetches a plan by id.
func (c *Client) GetPlan(ctx context.Context, planID string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, "v0/plans/"+url.PathEscape(planID), nil, &resp)
	return resp, err
}

// AddNode appends a node to a draft plan.
func (c *Client) AddNode(ctx context.Context, planID string, node map[string]any) (Node, error) {
	var resp Node
	endpoint := fmt.Sprintf("v0/plans/%s/nodes", url.PathEscape(planID))
	err := c.do(ctx, http.MethodPost, endpoint, node, &resp)
	return resp, err
}

// AddEdge declares that a node depends on a predecessor.
func (c *Client) AddEdge(ctx context.Context, planID, nodeID, predecessorID string) error {
	body := map[string]any{
		"node_id":        nodeID,
		"predecessor_id": predecessorID,
	}
	endpoint := fmt.Sprintf("v0/plans/%s/edges", url.PathEscape(planID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Launch schedules every node of a plan and activates it.
func (c *Client) Launch(ctx context.Context, planID string) (LaunchResult, error) {
	var resp LaunchResult
	endpoint := fmt.Sprintf("v0/plans/%s/launch", url.PathEscape(planID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// WorkerQueue returns the ordered task queue for a worker.
func (c *Client) WorkerQueue(ctx context.Context, workerID string) ([]QueueItem, error) {
	var resp []QueueItem
	endpoint := fmt.Sprintf("v0/workers/%s/queue", url.PathEscape(workerID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// StartAssignment starts the head of a worker's queue.
func (c *Client) StartAssignment(ctx context.Context, assignmentID string) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("v0/assignments/%s/start", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CompleteAssignment finishes an in-progress assignment.
func (c *Client) CompleteAssignment(ctx context.Context, assignmentID string) (Assignment, error) {
	var resp Assignment
	endpoint := fmt.Sprintf("v0/assignments/%s/complete", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, optionally scoped to a plan.
func (c *Client) Events(ctx context.Context, planID string, limit int) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if planID != "" {
		params.Set("plan_id", planID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
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

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"shipsanity/pkg/api"
)

// Client handles API calls to the shipsanity controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and internal secret.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			// Synchronous runs can take minutes.
			Timeout: 5 * time.Minute,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// Cron sends POST /internal/cron.
func (c *Client) Cron() (*api.CronResponse, error) {
	var out api.CronResponse
	return &out, c.do(http.MethodPost, "/internal/cron", nil, &out)
}

// QueueCounts sends GET /internal/queue/counts.
func (c *Client) QueueCounts() (*api.QueueCountsResponse, error) {
	var out api.QueueCountsResponse
	return &out, c.do(http.MethodGet, "/internal/queue/counts", nil, &out)
}

// Enqueue sends POST /internal/scenarios/{id}/enqueue.
func (c *Client) Enqueue(scenarioID string, req api.EnqueueRequest) (*api.EnqueueResponse, error) {
	var out api.EnqueueResponse
	return &out, c.do(http.MethodPost, "/internal/scenarios/"+scenarioID+"/enqueue", req, &out)
}

// Run sends POST /internal/scenarios/{id}/run.
func (c *Client) Run(scenarioID string) (*api.RunResponse, error) {
	var out api.RunResponse
	return &out, c.do(http.MethodPost, "/internal/scenarios/"+scenarioID+"/run", nil, &out)
}

// GetRun sends GET /internal/runs/{id}.
func (c *Client) GetRun(runID string) (*api.RunResponse, error) {
	var out api.RunResponse
	return &out, c.do(http.MethodGet, "/internal/runs/"+runID, nil, &out)
}

// Digest sends POST /internal/tenants/{id}/digest.
func (c *Client) Digest(tenantID string, req api.DigestRequest) (*api.DigestResponse, error) {
	var out api.DigestResponse
	return &out, c.do(http.MethodPost, "/internal/tenants/"+tenantID+"/digest", req, &out)
}

func (c *Client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// CronResponse is the response body of a scheduler tick.
type CronResponse struct {
	Tenants  int `json:"tenants"`
	Enqueued int `json:"enqueued"`
	Digests  int `json:"digests"`
	Swept    int `json:"swept"`
}

// QueueCountsResponse is the queue introspection snapshot.
type QueueCountsResponse struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// EnqueueRequest is the request body for enqueuing a scenario run.
type EnqueueRequest struct {
	// AvailableAt delays the run; nil or past means now.
	AvailableAt *time.Time `json:"available_at,omitempty"`
}

// EnqueueResponse is the response body after enqueuing a scenario run.
type EnqueueResponse struct {
	RunID string `json:"run_id"`
	JobID string `json:"job_id"`
}

// DigestRequest is the request body for scheduling a digest.
type DigestRequest struct {
	DelaySeconds int `json:"delay_seconds,omitempty"`
}

// DigestResponse is the response body after scheduling a digest.
type DigestResponse struct {
	JobID string `json:"job_id"`
}

// Money is a storefront amount.
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

// DeliveryOption is one shipping rate offered at checkout.
type DeliveryOption struct {
	Handle string `json:"handle"`
	Title  string `json:"title"`
	Cost   Money  `json:"cost"`
}

// Finding is a diagnostic attached to a run.
type Finding struct {
	Code           string            `json:"code"`
	Message        string            `json:"message,omitempty"`
	ProbableCauses []string          `json:"probable_causes,omitempty"`
	Links          map[string]string `json:"links,omitempty"`
}

// RunResponse represents a run in API responses.
type RunResponse struct {
	ID            string           `json:"id"`
	ScenarioID    string           `json:"scenario_id"`
	TenantID      string           `json:"tenant_id"`
	Status        string           `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	Subtotal      *Money           `json:"subtotal,omitempty"`
	CheckoutURL   string           `json:"checkout_url,omitempty"`
	Options       []DeliveryOption `json:"options"`
	Findings      []Finding        `json:"findings"`
	ScreenshotURL *string          `json:"screenshot_url,omitempty"`
}

// Package shopify wraps the Shopify Admin and Storefront APIs with rate limiting and retries.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shipsanity/internal/ratelimit"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultAPIVersion is used when a tenant has no stored API version.
const DefaultAPIVersion = "2025-07"

// Limiter gates outbound requests. *ratelimit.Limiter satisfies it.
type Limiter interface {
	Consume(ctx context.Context, class ratelimit.Class, tenant string) error
}

// Client is a rate-limited, retrying HTTP client bound to one shop and API class.
type Client struct {
	class       ratelimit.Class
	shop        string
	version     string
	token       string
	tokenHeader string
	baseURL     string

	httpClient *http.Client
	limiter    Limiter
	attempts   int
	backoff    time.Duration
	sleep      func(ctx context.Context, d time.Duration) error

	requests metric.Int64Counter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLimiter sets the rate limiter consumed before every attempt.
func WithLimiter(l Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithBaseURL overrides https://{shop}. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRetry sets the attempt count and initial backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.backoff = backoff
	}
}

// WithSleep replaces the backoff sleeper. Used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func newClient(class ratelimit.Class, shop, token, tokenHeader, version string, opts []Option) *Client {
	if version == "" {
		version = DefaultAPIVersion
	}
	c := &Client{
		class:       class,
		shop:        shop,
		version:     version,
		token:       token,
		tokenHeader: tokenHeader,
		baseURL:     "https://" + shop,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		attempts:    3,
		backoff:     200 * time.Millisecond,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts <= 0 {
		c.attempts = 1
	}

	c.requests, _ = otel.Meter("shipsanity/shopify").Int64Counter("shipsanity.api.requests",
		metric.WithDescription("Shopify API attempts by class and outcome"),
	)
	return c
}

// Shop returns the shop domain the client is bound to.
func (c *Client) Shop() string { return c.shop }

// Version returns the API version in use.
func (c *Client) Version() string { return c.version }

func (c *Client) graphqlEndpoint() string {
	if c.class == ratelimit.Admin {
		return fmt.Sprintf("%s/admin/api/%s/graphql.json", c.baseURL, c.version)
	}
	return fmt.Sprintf("%s/api/%s/graphql.json", c.baseURL, c.version)
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// GraphQL posts a query and decodes its data field into out (which may be nil).
func (c *Client) GraphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode graphql request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, c.graphqlEndpoint(), body)
	if err != nil {
		return err
	}

	var resp graphqlResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return &DecodeError{Snippet: snippet(raw), Err: err}
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e.Message == "" {
				e.Message = "Unknown"
			}
			msgs = append(msgs, e.Message)
		}
		return &GraphQLErrors{Messages: msgs, Data: resp.Data}
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return &DecodeError{Snippet: snippet(resp.Data), Err: err}
	}
	return nil
}

// REST issues a GET against the admin REST API and decodes the JSON body into out.
func (c *Client) REST(ctx context.Context, path string, out any) error {
	endpoint := fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, c.version, strings.TrimPrefix(path, "/"))
	raw, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Snippet: snippet(raw), Err: err}
	}
	return nil
}

// do runs the request with up to c.attempts attempts.
// Each attempt consumes the rate limiter; retryable outcomes back off 200ms, 400ms, ...
// No sleep follows the final attempt.
func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if c.limiter != nil {
			if err := c.limiter.Consume(ctx, c.class, c.shop); err != nil {
				return nil, err
			}
		}

		raw, err := c.attempt(ctx, method, endpoint, body)
		outcome := Classify(err)
		if err != nil && ctx.Err() != nil {
			outcome = OutcomeFatal
		}
		c.record(ctx, outcome)

		switch outcome {
		case OutcomeOK:
			return raw, nil
		case OutcomeFatal:
			return nil, err
		}

		lastErr = err
		if i < c.attempts-1 {
			if err := c.sleep(ctx, c.backoff*time.Duration(1<<i)); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(c.tokenHeader, c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet(raw)}
	}
	return raw, nil
}

func (c *Client) record(ctx context.Context, outcome Outcome) {
	if c.requests == nil {
		return
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", string(c.class)),
		attribute.String("outcome", outcome.String()),
	))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

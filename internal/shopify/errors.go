package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// maxSnippet bounds the response body quoted in errors.
const maxSnippet = 2000

// ErrNoAdminSession is returned when a tenant has no admin access token.
var ErrNoAdminSession = errors.New("offline admin session not found")

// StatusError is a non-2xx response that was not retried (or ran out of retries).
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shopify returned status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is a response body that is not valid JSON.
type DecodeError struct {
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	return "Invalid JSON from Shopify GraphQL: " + e.Snippet
}

func (e *DecodeError) Unwrap() error { return e.Err }

// GraphQLErrors is a 200 response whose errors array is not empty.
type GraphQLErrors struct {
	Messages []string
	Data     json.RawMessage
}

func (e *GraphQLErrors) Error() string {
	return "Shopify GraphQL errors: " + strings.Join(e.Messages, "; ")
}

// UserError is a mutation-level validation error.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// Outcome classifies the result of one API attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetryable:
		return "retryable"
	}
	return "fatal"
}

// Classify maps an attempt error to an outcome.
// 429, 5xx, timeouts and other transport failures are retryable; other
// statuses, malformed bodies, GraphQL errors and cancellation are fatal.
// Whether the caller's own deadline expired is decided by the client from
// its context, not here.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}

	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return OutcomeRetryable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return OutcomeRetryable
	}
	if errors.Is(err, context.Canceled) {
		return OutcomeFatal
	}

	var se *StatusError
	if errors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500 {
			return OutcomeRetryable
		}
		return OutcomeFatal
	}

	var de *DecodeError
	var ge *GraphQLErrors
	if errors.As(err, &de) || errors.As(err, &ge) || errors.Is(err, ErrNoAdminSession) {
		return OutcomeFatal
	}

	return OutcomeRetryable
}

// HasStatus reports whether err carries the given HTTP status.
func HasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// IsForbidden reports whether err is a 403, the signal of a revoked storefront token.
func IsForbidden(err error) bool {
	return HasStatus(err, http.StatusForbidden)
}

func snippet(body []byte) string {
	if len(body) > maxSnippet {
		body = body[:maxSnippet]
	}
	return string(body)
}

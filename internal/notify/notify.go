// Package notify delivers run digests over Slack and email.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

const defaultResendURL = "https://api.resend.com/emails"

// Slack posts messages to an incoming webhook.
type Slack struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Send posts text to webhookURL and reports whether Slack accepted it.
func (s *Slack) Send(ctx context.Context, webhookURL, text string) bool {
	ok, err := postJSON(ctx, s.HTTPClient, webhookURL, nil, map[string]string{"text": text})
	if err != nil {
		logger(s.Logger).Warn("slack notification failed", "error", err)
	}
	return ok
}

// Resend sends plain-text email through the Resend API.
type Resend struct {
	APIKey     string
	From       string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Email is a single plain-text message.
type Email struct {
	To      string
	Subject string
	Text    string
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

// Send delivers the email. It returns false when the sender is not configured.
func (r *Resend) Send(ctx context.Context, e Email) bool {
	if r.APIKey == "" || r.From == "" {
		return false
	}
	u := r.BaseURL
	if u == "" {
		u = defaultResendURL
	}

	headers := map[string]string{"Authorization": "Bearer " + r.APIKey}
	ok, err := postJSON(ctx, r.HTTPClient, u, headers, resendRequest{
		From:    r.From,
		To:      []string{e.To},
		Subject: e.Subject,
		Text:    e.Text,
	})
	if err != nil {
		logger(r.Logger).Warn("email notification failed", "error", err)
	}
	return ok
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) (bool, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

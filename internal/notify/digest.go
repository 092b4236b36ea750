package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shipsanity/internal/store"

	"github.com/google/uuid"
)

// DigestWindow is how far back a digest looks.
const DigestWindow = 24 * time.Hour

// FormatDigest renders the plain-text digest for a shop's recent runs.
// ERROR runs count as failures; BLOCKED runs are listed separately.
func FormatDigest(domain string, runs []store.RunSummary) string {
	var pass, warn, fail, blocked int
	var failing []store.RunSummary
	for _, r := range runs {
		switch r.Status {
		case store.RunStatusPass:
			pass++
		case store.RunStatusWarn:
			warn++
		case store.RunStatusFail, store.RunStatusError:
			fail++
			failing = append(failing, r)
		case store.RunStatusBlocked:
			blocked++
			failing = append(failing, r)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Shipping sanity digest for %s (last 24h)\n", domain)
	fmt.Fprintf(&b, "PASS: %d  WARN: %d  FAIL: %d", pass, warn, fail)
	if blocked > 0 {
		fmt.Fprintf(&b, "  BLOCKED: %d", blocked)
	}
	b.WriteString("\n")

	if len(runs) == 0 {
		b.WriteString("No runs in this period.\n")
		return b.String()
	}
	if len(failing) > 0 {
		b.WriteString("\nNeeds attention:\n")
		for _, r := range failing {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", r.ScenarioName, r.Status, r.StartedAt.UTC().Format(time.RFC3339))
		}
	}
	return b.String()
}

// SlackSender posts to a webhook.
type SlackSender interface {
	Send(ctx context.Context, webhookURL, text string) bool
}

// EmailSender delivers an email.
type EmailSender interface {
	Send(ctx context.Context, e Email) bool
}

// DigestStore is what the digest needs from the database.
type DigestStore interface {
	GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error)
	ListRunsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]store.RunSummary, error)
}

// Digester sends the daily digest for a tenant.
type Digester struct {
	store  DigestStore
	slack  SlackSender
	email  EmailSender
	logger *slog.Logger
	now    func() time.Time
}

// NewDigester creates a digester. Nil senders are skipped.
func NewDigester(st DigestStore, slack SlackSender, email EmailSender, logger *slog.Logger) *Digester {
	return &Digester{store: st, slack: slack, email: email, logger: logger, now: time.Now}
}

// Send collects the last day of runs and delivers them to every configured
// channel. A missing tenant is a no-op and delivery failures are only logged.
func (d *Digester) Send(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := d.store.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load tenant: %w", err)
	}

	runs, err := d.store.ListRunsSince(ctx, tenantID, d.now().Add(-DigestWindow))
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	text := FormatDigest(tenant.Domain, runs)
	log := logger(d.logger).With("tenant_id", tenantID)

	if url := tenant.Settings.SlackWebhookURL; url != "" && d.slack != nil {
		if !d.slack.Send(ctx, url, text) {
			log.Warn("digest not delivered to slack")
		}
	}
	if to := tenant.Settings.NotificationEmail; to != "" && d.email != nil {
		if !d.email.Send(ctx, Email{To: to, Subject: "Digest: " + tenant.Domain, Text: text}) {
			log.Warn("digest not delivered by email")
		}
	}

	log.Info("digest sent", "runs", len(runs))
	return nil
}

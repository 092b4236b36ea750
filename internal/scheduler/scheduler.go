// Package scheduler implements the externally triggered cron tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shipsanity/internal/diagnostics"
	"shipsanity/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Store is the persistence a tick reads and sweeps.
type Store interface {
	ListTenants(ctx context.Context) ([]store.Tenant, error)
	ListActiveScenarios(ctx context.Context, tenantID uuid.UUID, promoOnly bool) ([]store.Scenario, error)
	SweepStaleRuns(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, finding store.Finding) ([]uuid.UUID, error)
	PruneRateWindows(ctx context.Context, cutoff time.Time) (int64, error)
}

// Enqueuer schedules jobs.
type Enqueuer interface {
	EnqueueScenarioRun(ctx context.Context, tenantID, scenarioID uuid.UUID, availableAt time.Time) (runID, jobID uuid.UUID, err error)
	EnqueueDigest(ctx context.Context, tenantID uuid.UUID, delay time.Duration) (uuid.UUID, error)
}

// Config tunes a tick.
type Config struct {
	DigestDelay    time.Duration
	StaleThreshold time.Duration
}

// TickReport summarizes what a tick did.
type TickReport struct {
	Tenants  int `json:"tenants"`
	Enqueued int `json:"enqueued"`
	Digests  int `json:"digests"`
	Swept    int `json:"swept"`
}

// Scheduler enqueues due work on each tick.
type Scheduler struct {
	store  Store
	queue  Enqueuer
	config Config
	logger *slog.Logger
}

// New creates a scheduler. Zero config values default to a 15 minute digest
// delay and a 6 hour stale threshold.
func New(st Store, q Enqueuer, config Config, log *slog.Logger) *Scheduler {
	if config.DigestDelay <= 0 {
		config.DigestDelay = 15 * time.Minute
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = 6 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{store: st, queue: q, config: config, logger: log}
}

// Tick runs one scheduling pass for the UTC hour of now. Failures for one
// tenant do not stop the others; they are joined into the returned error.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickReport, error) {
	ctx, span := otel.Tracer("shipsanity/scheduler").Start(ctx, "scheduler_tick")
	defer span.End()

	var report TickReport
	hour := now.UTC().Hour()

	tenants, err := s.store.ListTenants(ctx)
	if err != nil {
		return report, fmt.Errorf("list tenants: %w", err)
	}

	var errs []error
	for _, t := range tenants {
		if t.Settings.RunsAt(hour) {
			report.Tenants++
			n, err := s.enqueueTenant(ctx, t)
			report.Enqueued += n
			if err != nil {
				errs = append(errs, fmt.Errorf("tenant %s: %w", t.ID, err))
			} else {
				report.Digests++
			}
		}

		swept, err := s.store.SweepStaleRuns(ctx, t.ID, now.Add(-s.config.StaleThreshold), diagnostics.RunTimeout(s.config.StaleThreshold))
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep tenant %s: %w", t.ID, err))
			continue
		}
		if len(swept) > 0 {
			s.logger.Warn("swept stale runs", "tenant_id", t.ID, "count", len(swept))
		}
		report.Swept += len(swept)
	}

	if _, err := s.store.PruneRateWindows(ctx, now.Add(-time.Minute)); err != nil {
		s.logger.Warn("failed to prune rate windows", "error", err)
	}

	span.SetAttributes(
		attribute.Int("tick.tenants", report.Tenants),
		attribute.Int("tick.enqueued", report.Enqueued),
		attribute.Int("tick.swept", report.Swept),
	)
	s.logger.Info("scheduler tick", "hour", hour, "tenants", report.Tenants, "enqueued", report.Enqueued, "digests", report.Digests, "swept", report.Swept)
	return report, errors.Join(errs...)
}

// enqueueTenant enqueues every due scenario of the tenant followed by its digest.
func (s *Scheduler) enqueueTenant(ctx context.Context, t store.Tenant) (int, error) {
	scenarios, err := s.store.ListActiveScenarios(ctx, t.ID, t.Settings.PromoMode)
	if err != nil {
		return 0, fmt.Errorf("list scenarios: %w", err)
	}

	enqueued := 0
	for _, sc := range scenarios {
		if _, _, err := s.queue.EnqueueScenarioRun(ctx, t.ID, sc.ID, time.Time{}); err != nil {
			return enqueued, fmt.Errorf("enqueue scenario %s: %w", sc.ID, err)
		}
		enqueued++
	}

	if _, err := s.queue.EnqueueDigest(ctx, t.ID, s.config.DigestDelay); err != nil {
		return enqueued, fmt.Errorf("enqueue digest: %w", err)
	}
	return enqueued, nil
}

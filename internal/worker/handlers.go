package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shipsanity/internal/diagnostics"
	"shipsanity/internal/logger"
	"shipsanity/internal/queue"
	"shipsanity/internal/shoplock"
	"shipsanity/internal/store"

	"github.com/google/uuid"
)

// ScenarioRunner executes a scenario into a run record.
type ScenarioRunner interface {
	Run(ctx context.Context, scenarioID, runID uuid.UUID) (*store.Run, error)
}

// Locker serializes scenario runs per tenant.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// RunStore settles runs the runner never reached.
type RunStore interface {
	FailPendingRun(ctx context.Context, id uuid.UUID, finding store.Finding) (bool, error)
	SweepStaleRuns(ctx context.Context, tenantID uuid.UUID, cutoff time.Time, finding store.Finding) ([]uuid.UUID, error)
}

// ScenarioHandler runs SCENARIO_RUN jobs under the tenant's shop lock.
type ScenarioHandler struct {
	runner         ScenarioRunner
	locker         Locker
	runs           RunStore
	staleThreshold time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

// NewScenarioHandler creates the handler. A staleThreshold <= 0 disables the
// opportunistic sweep after each run.
func NewScenarioHandler(runner ScenarioRunner, locker Locker, runs RunStore, staleThreshold time.Duration, log *slog.Logger) *ScenarioHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ScenarioHandler{
		runner:         runner,
		locker:         locker,
		runs:           runs,
		staleThreshold: staleThreshold,
		logger:         log,
		now:            time.Now,
	}
}

// Handle implements Handler.
func (h *ScenarioHandler) Handle(ctx context.Context, job store.Job) error {
	p, err := queue.DecodeScenarioRun(job.Payload)
	if err != nil {
		return err
	}
	var runID uuid.UUID
	if p.RunID != nil {
		runID = *p.RunID
	}
	log := logger.FromContext(ctx, h.logger)

	release, err := h.locker.Acquire(ctx, shoplock.Key(p.TenantID))
	if err != nil {
		return fmt.Errorf("acquire shop lock: %w", err)
	}
	defer release()

	run, err := h.runner.Run(ctx, p.ScenarioID, runID)
	if err != nil {
		return err
	}
	log.Info("scenario run recorded", "run_id", run.ID, "status", run.Status)

	h.sweep(ctx, p.TenantID)
	return nil
}

// OnFinalFailure implements FinalFailureHandler. The run is only touched while still PENDING.
func (h *ScenarioHandler) OnFinalFailure(ctx context.Context, job store.Job, cause error) {
	p, err := queue.DecodeScenarioRun(job.Payload)
	if err != nil || p.RunID == nil {
		return
	}

	finding := diagnostics.JobFinalFailure(cause)
	if errors.Is(cause, shoplock.ErrTimeout) {
		finding = diagnostics.ShopLockTimeout(cause)
	}

	log := logger.FromContext(ctx, h.logger).With("run_id", *p.RunID)
	updated, err := h.runs.FailPendingRun(context.WithoutCancel(ctx), *p.RunID, finding)
	if err != nil {
		log.Error("failed to force run to ERROR", "error", err)
		return
	}
	if updated {
		log.Warn("run forced to ERROR after final job failure", "code", finding.Code)
	}
}

func (h *ScenarioHandler) sweep(ctx context.Context, tenantID uuid.UUID) {
	if h.staleThreshold <= 0 {
		return
	}
	swept, err := h.runs.SweepStaleRuns(ctx, tenantID, h.now().Add(-h.staleThreshold), diagnostics.RunTimeout(h.staleThreshold))
	if err != nil {
		logger.FromContext(ctx, h.logger).Warn("stale run sweep failed", "error", err)
		return
	}
	if len(swept) > 0 {
		logger.FromContext(ctx, h.logger).Warn("swept stale runs", "count", len(swept))
	}
}

// Digester sends a tenant digest.
type Digester interface {
	Send(ctx context.Context, tenantID uuid.UUID) error
}

// DigestHandler runs DIGEST_EMAIL jobs.
type DigestHandler struct {
	digester Digester
}

func NewDigestHandler(d Digester) *DigestHandler {
	return &DigestHandler{digester: d}
}

// Handle implements Handler.
func (h *DigestHandler) Handle(ctx context.Context, job store.Job) error {
	p, err := queue.DecodeDigest(job.Payload)
	if err != nil {
		return err
	}
	return h.digester.Send(ctx, p.TenantID)
}

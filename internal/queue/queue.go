// Package queue implements the durable job queue on top of the store.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"shipsanity/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var validate = validator.New()

// Policy is the retry policy of a job kind.
type Policy struct {
	MaxAttempts int
	Backoff     store.BackoffPolicy
}

// Policies holds the fixed retry policy per job kind.
var Policies = map[store.JobKind]Policy{
	store.JobKindScenarioRun: {MaxAttempts: 5, Backoff: store.BackoffPolicy{Kind: store.BackoffExponential, Delay: 30 * time.Second}},
	store.JobKindDigestEmail: {MaxAttempts: 3, Backoff: store.BackoffPolicy{Kind: store.BackoffFixed, Delay: 60 * time.Second}},
}

// ScenarioRunPayload is the payload of a SCENARIO_RUN job.
type ScenarioRunPayload struct {
	TenantID   uuid.UUID              `json:"tenantId" validate:"required"`
	ScenarioID uuid.UUID              `json:"scenarioId" validate:"required"`
	RunID      *uuid.UUID             `json:"runId,omitempty"`
	Trace      propagation.MapCarrier `json:"trace,omitempty"`
}

// DigestPayload is the payload of a DIGEST_EMAIL job.
type DigestPayload struct {
	TenantID uuid.UUID              `json:"tenantId" validate:"required"`
	Trace    propagation.MapCarrier `json:"trace,omitempty"`
}

// Store is the persistence the queue needs.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	CreateRun(ctx context.Context, tx store.DBTransaction, run *store.Run) error
	store.JobQueue
}

// Config controls retention of finished job metadata.
type Config struct {
	KeepCompleted int
	KeepFailed    int
}

// Service enqueues, claims and settles jobs.
type Service struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a queue service. Zero retention values default to 1000 completed and 5000 failed.
func New(st Store, config Config, logger *slog.Logger) *Service {
	if config.KeepCompleted <= 0 {
		config.KeepCompleted = 1000
	}
	if config.KeepFailed <= 0 {
		config.KeepFailed = 5000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, config: config, logger: logger, now: time.Now}
}

// EnqueueScenarioRun creates the PENDING run and its job in one transaction.
// A zero or past availableAt makes the job claimable immediately; a future one
// also becomes the run's start time.
func (s *Service) EnqueueScenarioRun(ctx context.Context, tenantID, scenarioID uuid.UUID, availableAt time.Time) (runID, jobID uuid.UUID, err error) {
	now := s.now()
	if availableAt.Before(now) {
		availableAt = now
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	run := &store.Run{
		ID:         uuid.New(),
		ScenarioID: scenarioID,
		TenantID:   tenantID,
		StartedAt:  availableAt.UTC(),
	}
	if err := s.store.CreateRun(ctx, tx, run); err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	payload := ScenarioRunPayload{TenantID: tenantID, ScenarioID: scenarioID, RunID: &run.ID}
	job, err := s.enqueue(ctx, tx, store.JobKindScenarioRun, tenantID, &payload, &payload.Trace, availableAt)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return run.ID, job.ID, nil
}

// EnqueueDigest schedules a digest for the tenant after delay.
func (s *Service) EnqueueDigest(ctx context.Context, tenantID uuid.UUID, delay time.Duration) (uuid.UUID, error) {
	if delay < 0 {
		delay = 0
	}
	payload := DigestPayload{TenantID: tenantID}
	job, err := s.enqueue(ctx, nil, store.JobKindDigestEmail, tenantID, &payload, &payload.Trace, s.now().Add(delay))
	if err != nil {
		return uuid.Nil, err
	}
	return job.ID, nil
}

func (s *Service) enqueue(ctx context.Context, tx store.DBTransaction, kind store.JobKind, tenantID uuid.UUID, payload any, carrier *propagation.MapCarrier, availableAt time.Time) (*store.Job, error) {
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", kind, err)
	}

	*carrier = propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, *carrier)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	policy := Policies[kind]
	job := &store.Job{
		ID:           uuid.New(),
		Kind:         kind,
		TenantID:     tenantID,
		Payload:      raw,
		MaxAttempts:  policy.MaxAttempts,
		Backoff:      policy.Backoff,
		VisibleAfter: availableAt,
	}
	if err := s.store.EnqueueJob(ctx, tx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job enqueued", "job_id", job.ID, "kind", kind, "tenant_id", tenantID, "available_at", availableAt.UTC())
	return job, nil
}

// Claim hands out up to limit visible jobs, hidden from other claimers for visibility.
func (s *Service) Claim(ctx context.Context, limit int, visibility time.Duration) ([]store.Job, error) {
	return s.store.ClaimJobs(ctx, limit, visibility)
}

// Extend pushes the visibility of an active job.
func (s *Service) Extend(ctx context.Context, id uuid.UUID, visibleAfter time.Time) error {
	return s.store.ExtendJob(ctx, id, visibleAfter)
}

// Complete settles a successful job.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.CompleteJob(ctx, id); err != nil {
		return err
	}
	s.prune(ctx)
	return nil
}

// Fail records a failed attempt and reports whether it was the last one.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, errMsg string) (bool, error) {
	final, err := s.store.FailJob(ctx, id, errMsg)
	if err != nil {
		return final, err
	}
	if final {
		s.prune(ctx)
	}
	return final, nil
}

// Counts returns the queue introspection snapshot.
func (s *Service) Counts(ctx context.Context) (store.JobCounts, error) {
	return s.store.CountJobs(ctx)
}

func (s *Service) prune(ctx context.Context) {
	if err := s.store.PruneJobs(ctx, s.config.KeepCompleted, s.config.KeepFailed); err != nil {
		s.logger.Warn("failed to prune finished jobs", "error", err)
	}
}

// DecodeScenarioRun parses and validates a SCENARIO_RUN payload.
func DecodeScenarioRun(raw json.RawMessage) (ScenarioRunPayload, error) {
	var p ScenarioRunPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid payload: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return p, fmt.Errorf("invalid payload: %w", err)
	}
	return p, nil
}

// DecodeDigest parses and validates a DIGEST_EMAIL payload.
func DecodeDigest(raw json.RawMessage) (DigestPayload, error) {
	var p DigestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("invalid payload: %w", err)
	}
	if err := validate.Struct(&p); err != nil {
		return p, fmt.Errorf("invalid payload: %w", err)
	}
	return p, nil
}

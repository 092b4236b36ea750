// Package worker contains the pull loop that executes queued jobs.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shipsanity/internal/logger"
	"shipsanity/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between heartbeat calls (default: 2m)
	VisibilityExtension time.Duration // How long to extend visibility on heartbeat (default: 5m)
	JobTimeout          time.Duration // Upper bound on a single attempt (default: 15m)
}

// Queue is the subset of the queue service the agent drives.
type Queue interface {
	Claim(ctx context.Context, limit int, visibility time.Duration) ([]store.Job, error)
	Extend(ctx context.Context, id uuid.UUID, visibleAfter time.Time) error
	Complete(ctx context.Context, id uuid.UUID) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) (bool, error)
}

// Handler executes one kind of job. A returned error fails the attempt.
type Handler interface {
	Handle(ctx context.Context, job store.Job) error
}

// FinalFailureHandler is implemented by handlers that clean up after a job
// exhausted its attempts.
type FinalFailureHandler interface {
	OnFinalFailure(ctx context.Context, job store.Job, cause error)
}

// Agent is the main worker agent that runs the pull-loop for job execution.
type Agent struct {
	queue    Queue
	handlers map[store.JobKind]Handler
	config   AgentConfig
	logger   *slog.Logger
	done     chan struct{}
}

// tracePayload is the part of every job payload the agent reads itself.
type tracePayload struct {
	Trace propagation.MapCarrier `json:"trace"`
}

// New creates a new worker agent.
func New(q Queue, handlers map[store.JobKind]Handler, config AgentConfig, log *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 10
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 5 * time.Minute
	}

	if config.JobTimeout <= 0 {
		config.JobTimeout = 15 * time.Minute
	}

	if log == nil {
		log = slog.Default()
	}

	return &Agent{
		queue:    q,
		handlers: handlers,
		config:   config,
		logger:   log,
		done:     make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On cancellation it stops claiming new work and lets in-flight jobs finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "agent_id", a.config.ID, "concurrency", a.config.Concurrency)

	// Semaphore to limit concurrency
	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Channel to signal when a slot becomes available (adaptive polling)
	pollNow := make(chan struct{}, 1)

	// Current backoff duration (increases on empty queue, resets on work found)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
			// Already a poll pending
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running jobs to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			jobs, err := a.queue.Claim(ctx, availableSlots, a.config.VisibilityExtension)
			if err != nil {
				a.logger.Error("claim failed", "error", err)
				continue
			}

			if len(jobs) == 0 {
				// Empty queue - increase backoff (exponential, capped at MaxBackoff)
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.logger.Debug("claimed jobs", "count", len(jobs))

			for _, job := range jobs {
				sem <- struct{}{}

				wg.Add(1)
				go func(job store.Job) {
					defer wg.Done()
					defer func() {
						<-sem
						// A slot is free again.
						triggerPoll()
					}()
					// Jobs run to completion even if the agent is draining.
					a.processJob(context.WithoutCancel(ctx), job)
				}(job)
			}

			if len(jobs) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processJob executes a single claimed job and settles it.
func (a *Agent) processJob(ctx context.Context, job store.Job) {
	var tp tracePayload
	if err := json.Unmarshal(job.Payload, &tp); err == nil && tp.Trace != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, tp.Trace)
	}

	ctx, span := otel.Tracer("shipsanity/worker").Start(ctx, "process_job",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.kind", string(job.Kind)),
			attribute.Int("job.attempt", job.Attempt),
			attribute.String("tenant.id", job.TenantID.String()),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	ctx = logger.WithTenantID(logger.WithJobID(ctx, job.ID.String()), job.TenantID.String())
	log := logger.FromContext(ctx, a.logger).With("kind", job.Kind, "attempt", job.Attempt)

	handler, ok := a.handlers[job.Kind]
	if !ok {
		a.fail(ctx, span, log, job, fmt.Errorf("no handler for job kind %q", job.Kind))
		return
	}

	// Keep the job hidden from other workers while it runs.
	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, job.ID)

	execCtx, cancel := context.WithTimeout(ctx, a.config.JobTimeout)
	defer cancel()

	if err := handler.Handle(execCtx, job); err != nil {
		a.fail(ctx, span, log, job, err)
		return
	}

	if err := a.queue.Complete(ctx, job.ID); err != nil {
		log.Error("failed to complete job", "error", err)
		return
	}
	log.Info("job completed")
}

func (a *Agent) fail(ctx context.Context, span trace.Span, log *slog.Logger, job store.Job, cause error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	final, err := a.queue.Fail(ctx, job.ID, cause.Error())
	if err != nil {
		log.Error("failed to record job failure", "cause", cause, "error", err)
		return
	}
	if !final {
		log.Warn("job attempt failed, will retry", "error", cause)
		return
	}

	log.Error("job failed permanently", "error", cause)
	if h, ok := a.handlers[job.Kind].(FinalFailureHandler); ok {
		h.OnFinalFailure(ctx, job, cause)
	}
}

// runHeartbeat refreshes the visibility timeout periodically while a job is executing.
func (a *Agent) runHeartbeat(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.queue.Extend(context.Background(), jobID, visibleAfter); err != nil {
				a.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}

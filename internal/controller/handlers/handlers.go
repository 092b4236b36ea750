// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"shipsanity/internal/scheduler"
	"shipsanity/internal/store"
	"shipsanity/pkg/api"

	"github.com/google/uuid"
)

// Store is the persistence the handlers read.
type Store interface {
	Ping(ctx context.Context) error
	GetRun(ctx context.Context, id uuid.UUID) (*store.Run, error)
	GetScenario(ctx context.Context, id uuid.UUID) (*store.Scenario, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error)
}

// Queue enqueues and inspects jobs.
type Queue interface {
	EnqueueScenarioRun(ctx context.Context, tenantID, scenarioID uuid.UUID, availableAt time.Time) (runID, jobID uuid.UUID, err error)
	EnqueueDigest(ctx context.Context, tenantID uuid.UUID, delay time.Duration) (uuid.UUID, error)
	Counts(ctx context.Context) (store.JobCounts, error)
}

// Runner executes a scenario synchronously.
type Runner interface {
	Run(ctx context.Context, scenarioID, runID uuid.UUID) (*store.Run, error)
}

// Locker serializes runs per tenant.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Ticker runs one scheduler pass.
type Ticker interface {
	Tick(ctx context.Context, now time.Time) (scheduler.TickReport, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store     Store
	queue     Queue
	runner    Runner
	scheduler Ticker
	locker    Locker
	logger    *slog.Logger
	now       func() time.Time
	// lockWait bounds how long a synchronous run waits for the shop lock.
	lockWait time.Duration
}

// New creates a new Handlers instance.
func New(s Store, q Queue, r Runner, sch Ticker, l Locker, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		store:     s,
		queue:     q,
		runner:    r,
		scheduler: sch,
		locker:    l,
		logger:    log,
		now:       time.Now,
		lockWait:  30 * time.Second,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// pathID parses the {id} path value, writing a 400 on failure.
func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid "+what+" ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// decodeOptional decodes a JSON body if one was sent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"shipsanity/internal/logger"
	"shipsanity/internal/shoplock"
	"shipsanity/internal/store"
	"shipsanity/pkg/api"

	"github.com/google/uuid"
)

// EnqueueScenario handles POST /internal/scenarios/{id}/enqueue.
// It creates a PENDING run and queues it for the worker pool.
func (h *Handlers) EnqueueScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scenarioID, ok := h.pathID(w, r, "scenario")
	if !ok {
		return
	}

	var req api.EnqueueRequest
	if err := decodeOptional(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	scenario, ok := h.loadScenario(w, r, scenarioID)
	if !ok {
		return
	}

	var availableAt time.Time
	if req.AvailableAt != nil {
		availableAt = *req.AvailableAt
	}

	runID, jobID, err := h.queue.EnqueueScenarioRun(ctx, scenario.TenantID, scenario.ID, availableAt)
	if err != nil {
		logger.FromContext(ctx, h.logger).Error("enqueue failed", "scenario_id", scenarioID, "error", err)
		h.httpError(w, "Failed to enqueue scenario run", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.EnqueueResponse{
		RunID: runID.String(),
		JobID: jobID.String(),
	})
}

// RunScenario handles POST /internal/scenarios/{id}/run.
// It executes the scenario synchronously, bypassing the queue but holding the
// tenant's shop lock like a worker does. A busy shop answers 409.
func (h *Handlers) RunScenario(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	scenarioID, ok := h.pathID(w, r, "scenario")
	if !ok {
		return
	}
	scenario, ok := h.loadScenario(w, r, scenarioID)
	if !ok {
		return
	}

	lockCtx, cancel := context.WithTimeout(ctx, h.lockWait)
	release, err := h.locker.Acquire(lockCtx, shoplock.Key(scenario.TenantID))
	cancel()
	if err != nil {
		if errors.Is(err, shoplock.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			h.httpError(w, "Shop is busy with another run", http.StatusConflict)
			return
		}
		logger.FromContext(ctx, h.logger).Error("shop lock failed", "scenario_id", scenarioID, "error", err)
		h.httpError(w, "Failed to acquire shop lock", http.StatusInternalServerError)
		return
	}
	defer release()

	run, err := h.runner.Run(ctx, scenarioID, uuid.Nil)
	if err != nil {
		logger.FromContext(ctx, h.logger).Error("run failed", "scenario_id", scenarioID, "error", err)
		h.httpError(w, "Failed to run scenario", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, toRunResponse(run))
}

// GetRun handles GET /internal/runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.pathID(w, r, "run")
	if !ok {
		return
	}

	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Run not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to get run", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, toRunResponse(run))
}

func (h *Handlers) loadScenario(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*store.Scenario, bool) {
	scenario, err := h.store.GetScenario(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Scenario not found", http.StatusNotFound)
			return nil, false
		}
		h.httpError(w, "Failed to load scenario", http.StatusInternalServerError)
		return nil, false
	}
	return scenario, true
}

func toRunResponse(run *store.Run) api.RunResponse {
	resp := api.RunResponse{
		ID:            run.ID.String(),
		ScenarioID:    run.ScenarioID.String(),
		TenantID:      run.TenantID.String(),
		Status:        string(run.Status),
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		Options:       []api.DeliveryOption{},
		Findings:      []api.Finding{},
		ScreenshotURL: run.ScreenshotURL,
	}

	if res := run.Result; res != nil {
		resp.CheckoutURL = res.CheckoutURL
		if res.Subtotal != nil {
			resp.Subtotal = &api.Money{Amount: res.Subtotal.Amount, CurrencyCode: res.Subtotal.CurrencyCode}
		}
		for _, o := range res.Options {
			resp.Options = append(resp.Options, api.DeliveryOption{
				Handle: o.Handle,
				Title:  o.Title,
				Cost:   api.Money{Amount: o.EstimatedCost.Amount, CurrencyCode: o.EstimatedCost.CurrencyCode},
			})
		}
	}

	for _, f := range run.Diagnostics {
		resp.Findings = append(resp.Findings, api.Finding{
			Code:           string(f.Code),
			Message:        f.Message,
			ProbableCauses: f.ProbableCauses,
			Links:          f.Links,
		})
	}
	return resp
}

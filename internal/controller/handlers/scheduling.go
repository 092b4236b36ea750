package handlers

import (
	"errors"
	"net/http"
	"time"

	"shipsanity/internal/logger"
	"shipsanity/internal/store"
	"shipsanity/pkg/api"
)

// Cron handles POST /internal/cron.
// It runs one scheduler tick for the current hour.
func (h *Handlers) Cron(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.scheduler.Tick(ctx, h.now().UTC())
	if err != nil {
		logger.FromContext(ctx, h.logger).Error("scheduler tick failed", "error", err)
		h.httpError(w, "Scheduler tick failed", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.CronResponse{
		Tenants:  report.Tenants,
		Enqueued: report.Enqueued,
		Digests:  report.Digests,
		Swept:    report.Swept,
	})
}

// QueueCounts handles GET /internal/queue/counts.
func (h *Handlers) QueueCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		h.httpError(w, "Failed to count jobs", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, api.QueueCountsResponse(counts))
}

// EnqueueDigest handles POST /internal/tenants/{id}/digest.
func (h *Handlers) EnqueueDigest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := h.pathID(w, r, "tenant")
	if !ok {
		return
	}

	var req api.DigestRequest
	if err := decodeOptional(r, &req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.DelaySeconds < 0 {
		h.httpError(w, "delay_seconds must not be negative", http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetTenant(ctx, tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Tenant not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to load tenant", http.StatusInternalServerError)
		return
	}

	jobID, err := h.queue.EnqueueDigest(ctx, tenantID, time.Duration(req.DelaySeconds)*time.Second)
	if err != nil {
		h.httpError(w, "Failed to enqueue digest", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.DigestResponse{JobID: jobID.String()})
}

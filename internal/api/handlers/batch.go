package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/argumentlab/dialectic/internal/service"
)

// BatchHandler exposes the nightly pipeline steps as manual triggers for
// operators and tests.
type BatchHandler struct {
	batch       *service.BatchService
	propagation *service.PropagationService
	settlement  *service.SettlementService
}

func NewBatchHandler(batch *service.BatchService, propagation *service.PropagationService, settlement *service.SettlementService) *BatchHandler {
	return &BatchHandler{batch: batch, propagation: propagation, settlement: settlement}
}

// Run executes the full reclaim/propagate/settle pipeline once.
func (h *BatchHandler) Run(w http.ResponseWriter, r *http.Request) {
	if err := h.batch.RunOnce(r.Context()); err != nil {
		if errors.Is(err, service.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "batch run failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *BatchHandler) Reclaim(w http.ResponseWriter, r *http.Request) {
	n, err := h.batch.ReclaimStaleRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reclaim failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"reclaimed": n})
}

func (h *BatchHandler) Propagate(w http.ResponseWriter, r *http.Request) {
	res, err := h.propagation.RunCycle(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "propagation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Settle runs settlement standalone. Without a fresh propagation diff
// only expiry outcomes apply; flip-driven steals need the full pipeline.
func (h *BatchHandler) Settle(w http.ResponseWriter, r *http.Request) {
	res, err := h.settlement.RunCycle(r.Context(), nil, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settlement failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

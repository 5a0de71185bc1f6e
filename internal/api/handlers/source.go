package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type SourceHandler struct {
	sources domain.SourceStore
}

func NewSourceHandler(sources domain.SourceStore) *SourceHandler {
	return &SourceHandler{sources: sources}
}

// Get looks a cited source up by ref, registering it on first sight so
// approval can be set before any claim cites it.
func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}

	src, err := h.sources.GetOrCreate(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}

	writeJSON(w, http.StatusOK, src)
}

func (h *SourceHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}

	src, err := h.sources.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}

	writeJSON(w, http.StatusOK, src)
}

type setApprovalRequest struct {
	ApprovalScore float32 `json:"approval_score"`
}

// SetApproval records the community approval score that scales the base
// weight of claims citing this source at their next ingest.
func (h *SourceHandler) SetApproval(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}

	var req setApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ApprovalScore < 0 || req.ApprovalScore > 1 {
		writeError(w, http.StatusBadRequest, "approval_score must be in [0, 1]")
		return
	}

	if err := h.sources.SetApproval(r.Context(), id, req.ApprovalScore); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to set approval")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

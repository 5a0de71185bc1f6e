package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ConceptHandler struct {
	svc      *service.ConceptService
	concepts domain.ConceptStore
}

func NewConceptHandler(svc *service.ConceptService, concepts domain.ConceptStore) *ConceptHandler {
	return &ConceptHandler{svc: svc, concepts: concepts}
}

type searchConceptsRequest struct {
	Embedding []float32 `json:"embedding"`
	Threshold float32   `json:"threshold,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// Search finds concept nodes near the supplied vector, for checking what
// sense a term has already been used in.
func (h *ConceptHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchConceptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Embedding) == 0 {
		writeError(w, http.StatusBadRequest, "embedding is required")
		return
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = service.DefaultConceptThreshold
	}
	matches, err := h.svc.FindSimilarConcepts(r.Context(), req.Embedding, threshold, clampLimit(req.Limit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// GetBindings lists the concept senses bound to one I-Node's terms.
func (h *ConceptHandler) GetBindings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	bindings, err := h.concepts.GetBindings(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load bindings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bindings": bindings})
}

// ListEquivocations returns the shared-term sense mismatches recorded
// against one scheme.
func (h *ConceptHandler) ListEquivocations(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scheme id")
		return
	}

	flags, err := h.concepts.ListEquivocations(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load equivocations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"equivocations": flags})
}

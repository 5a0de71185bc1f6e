package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/argumentlab/dialectic/internal/api/middleware"
	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/service"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type RunHandler struct {
	runs   domain.RunStore
	ingest *service.IngestionService
}

func NewRunHandler(runs domain.RunStore, ingest *service.IngestionService) *RunHandler {
	return &RunHandler{runs: runs, ingest: ingest}
}

type createRunRequest struct {
	SourceRef   string `json:"source_ref"`
	ContentHash string `json:"content_hash"`
}

// Create registers an analysis run for one piece of content. Repeat
// submissions of the same (source_ref, content_hash) return the existing
// run instead of minting a new one.
func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SourceRef == "" {
		writeError(w, http.StatusBadRequest, "source_ref is required")
		return
	}
	if req.ContentHash == "" {
		writeError(w, http.StatusBadRequest, "content_hash is required")
		return
	}

	run := &domain.AnalysisRun{
		SourceRef:   req.SourceRef,
		ContentHash: req.ContentHash,
		Status:      domain.RunPending,
	}
	if err := h.runs.Create(r.Context(), run); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

func (h *RunHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

type ingestRequest struct {
	Result     domain.AnalysisResult `json:"result"`
	Embeddings domain.EmbeddingSet   `json:"embeddings,omitempty"`
}

// Ingest persists one completed analysis for the run. Re-submitting the
// same run replaces its previous graph wholesale.
func (h *RunHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Result.Nodes) == 0 {
		writeError(w, http.StatusBadRequest, "result.nodes is required")
		return
	}

	actor := middleware.UserFromContext(r.Context())

	res, err := h.ingest.Ingest(r.Context(), id, actor, &req.Result, req.Embeddings)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "run not found")
		case errors.Is(err, service.ErrRunNotIngestable):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrUnknownNodeKind):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "ingestion failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

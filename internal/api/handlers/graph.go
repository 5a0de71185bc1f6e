package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

type GraphHandler struct {
	graph domain.HypergraphStore
}

func NewGraphHandler(graph domain.HypergraphStore) *GraphHandler {
	return &GraphHandler{graph: graph}
}

// GetSubgraph renders every node and relation extracted from one content
// source, keyed by the source_ref query parameter (refs contain slashes,
// so a path segment does not work).
func (h *GraphHandler) GetSubgraph(w http.ResponseWriter, r *http.Request) {
	sourceRef := r.URL.Query().Get("source_ref")
	if sourceRef == "" {
		writeError(w, http.StatusBadRequest, "source_ref is required")
		return
	}

	sg, err := h.graph.GetSubgraph(r.Context(), sourceRef)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load subgraph")
		return
	}

	writeJSON(w, http.StatusOK, sg)
}

// GetThread renders the full connected component containing the given
// I-Node, the cross-discussion view of one line of argument.
func (h *GraphHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	node, err := h.graph.GetINode(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load node")
		return
	}
	if node.ComponentID == nil {
		// Not yet assigned by a propagation cycle; the node stands alone.
		writeJSON(w, http.StatusOK, &domain.Subgraph{INodes: []domain.INode{*node}})
		return
	}

	sg, err := h.graph.GetThreadSubgraph(r.Context(), *node.ComponentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load thread")
		return
	}

	writeJSON(w, http.StatusOK, sg)
}

func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}

	node, err := h.graph.GetINode(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load node")
		return
	}

	writeJSON(w, http.StatusOK, node)
}

type searchNodesRequest struct {
	Embedding []float32 `json:"embedding"`
	Threshold float32   `json:"threshold,omitempty"`
	Limit     int       `json:"limit,omitempty"`
}

// SearchNodes finds claims semantically similar to the supplied vector.
func (h *GraphHandler) SearchNodes(w http.ResponseWriter, r *http.Request) {
	var req searchNodesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Embedding) == 0 {
		writeError(w, http.StatusBadRequest, "embedding is required")
		return
	}

	limit := clampLimit(req.Limit)
	matches, err := h.graph.FindSimilarINodes(r.Context(), req.Embedding, req.Threshold, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

func parsePage(r *http.Request) (limit, offset int) {
	limit = clampLimit(atoiDefault(r.URL.Query().Get("limit"), defaultSearchLimit))
	offset = atoiDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

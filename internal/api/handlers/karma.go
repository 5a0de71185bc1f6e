package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const defaultDailyWindow = 30 * 24 * time.Hour

type KarmaHandler struct {
	karma domain.KarmaStore
	graph domain.HypergraphStore
}

func NewKarmaHandler(karma domain.KarmaStore, graph domain.HypergraphStore) *KarmaHandler {
	return &KarmaHandler{karma: karma, graph: graph}
}

// GetProfile returns a user's lifetime yields per role. Users with no
// yields yet read as a zero profile rather than a 404.
func (h *KarmaHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	profile, err := h.karma.GetProfile(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, &domain.KarmaProfile{UserID: userID})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// GetDaily returns per-day yield snapshots since the given RFC 3339
// timestamp, defaulting to the last 30 days.
func (h *KarmaHandler) GetDaily(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	since := time.Now().UTC().Add(-defaultDailyWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
	}

	yields, err := h.karma.GetDailyYields(r.Context(), userID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load daily yields")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"daily": yields})
}

// GetNodes lists the claims a user authored with their current rank and
// defeat status, the raw material of their profile.
func (h *KarmaHandler) GetNodes(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	nodes, err := h.graph.ListByCreator(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load nodes")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/argumentlab/dialectic/internal/api/middleware"
	"github.com/argumentlab/dialectic/internal/domain"
	"github.com/argumentlab/dialectic/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// defaultBountyTerm applies when the staker does not pick an expiry.
const defaultBountyTerm = 7 * 24 * time.Hour

type BountyHandler struct {
	escrows domain.EscrowStore
}

func NewBountyHandler(escrows domain.EscrowStore) *BountyHandler {
	return &BountyHandler{escrows: escrows}
}

type stakeBountyRequest struct {
	Amount    int64      `json:"amount"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Stake escrows a bounty on one scheme's conclusion surviving scrutiny.
// A scheme accepts exactly one stake over its lifetime.
func (h *BountyHandler) Stake(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusBadRequest, middleware.UserHeader+" header is required")
		return
	}

	schemeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scheme id")
		return
	}

	var req stakeBountyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	expiresAt := time.Now().UTC().Add(defaultBountyTerm)
	if req.ExpiresAt != nil {
		if req.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusBadRequest, "expires_at must be in the future")
			return
		}
		expiresAt = req.ExpiresAt.UTC()
	}

	if err := h.escrows.Stake(r.Context(), schemeID, *user, req.Amount, expiresAt); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "scheme not found")
		case errors.Is(err, store.ErrInvalidTransition):
			writeError(w, http.StatusConflict, "scheme already has a stake")
		default:
			writeError(w, http.StatusInternalServerError, "failed to stake bounty")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"scheme_id":  schemeID,
		"amount":     req.Amount,
		"expires_at": expiresAt,
		"status":     domain.EscrowActive,
	})
}

// ListPending pages active escrows by ascending expiry.
func (h *BountyHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePage(r)

	snodes, err := h.escrows.ListPending(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list bounties")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"bounties": snodes})
}

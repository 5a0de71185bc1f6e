package handlers

import (
	"net/http"

	"github.com/argumentlab/dialectic/internal/api/middleware"
	"github.com/argumentlab/dialectic/internal/domain"
)

type NotificationHandler struct {
	notices domain.NotificationStore
}

func NewNotificationHandler(notices domain.NotificationStore) *NotificationHandler {
	return &NotificationHandler{notices: notices}
}

// List returns the acting user's notices, newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusBadRequest, middleware.UserHeader+" header is required")
		return
	}

	limit, offset := parsePage(r)
	notices, err := h.notices.ListByUser(r.Context(), *user, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"notifications": notices})
}

package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

// UserHeader carries the acting user's id on authenticated requests.
// Authorship and bounty staking are attributed to it.
const UserHeader = "X-User-ID"

// UserFromContext returns the acting user's id, or nil when the request
// carried no identity.
func UserFromContext(ctx context.Context) *uuid.UUID {
	u, _ := ctx.Value(userContextKey).(*uuid.UUID)
	return u
}

// APIKeyAuth checks the shared bearer key and extracts the optional
// acting-user header into context. An empty configured key disables the
// check (local development).
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				authHeader := r.Header.Get("Authorization")
				if authHeader == "" {
					writeError(w, http.StatusUnauthorized, "missing authorization header")
					return
				}

				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
					writeError(w, http.StatusUnauthorized, "invalid authorization header format")
					return
				}

				if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(apiKey)) != 1 {
					writeError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
			}

			ctx := r.Context()
			if raw := r.Header.Get(UserHeader); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid "+UserHeader+" header")
					return
				}
				ctx = context.WithValue(ctx, userContextKey, &id)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/shelfwise/library-server/auth"
)

type contextKey string

const userContextKey contextKey = "authenticated-user"

// RequireAuth verifies the Bearer token and injects the authenticated user
// into the request context.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeEnvelope(w, http.StatusUnauthorized, Response{
				Success: false, Message: "missing or malformed authorization header",
			})
			return
		}

		user, err := h.Auth.VerifyToken(r.Context(), token)
		if err != nil {
			writeEnvelope(w, http.StatusUnauthorized, Response{
				Success: false, Message: "invalid or expired token",
			})
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireStaff rejects non-staff callers. Must run after RequireAuth.
func (h *Handler) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userFrom(r).Role != auth.RoleStaff {
			writeEnvelope(w, http.StatusForbidden, Response{
				Success: false, Message: "staff access required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// userFrom returns the authenticated user. Panics if RequireAuth did not
// run, which is a routing bug.
func userFrom(r *http.Request) *auth.User {
	return r.Context().Value(userContextKey).(*auth.User)
}

package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"escrowflow/identity"
)

type contextKey string

const (
	ctxUserID    contextKey = "user_id"
	ctxUserRole  contextKey = "user_role"
	ctxRequestID contextKey = "request_id"
)

// CallerID returns the verified user id placed by RequireAuth.
func CallerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}

// CallerRole returns the verified role placed by RequireAuth.
func CallerRole(r *http.Request) identity.Role {
	role, _ := r.Context().Value(ctxUserRole).(identity.Role)
	return role
}

// RequestID tags every request with a fresh id, echoes it in the response
// header, and logs method, path, and duration.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRequestID, id)))
		log.Printf("%s %s %s %s", id, r.Method, r.URL.Path, time.Since(start))
	})
}

// RequireAuth verifies the bearer token and stashes the caller identity in
// the request context.
func RequireAuth(auth *identity.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
				return
			}

			userID, role, err := auth.VerifyToken(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxUserID, userID)
			ctx = context.WithValue(ctx, ctxUserRole, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

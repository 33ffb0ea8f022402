package handlers

import (
	"context"
	"net/http"

	"github.com/modelrelay/gateway/internal/shared/models"
)

type contextKey string

const callerContextKey contextKey = "caller"

// CallerFromContext returns the caller identity attached by IdentityMiddleware.
func CallerFromContext(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(callerContextKey).(models.Caller)
	return caller, ok
}

// IdentityMiddleware extracts the already-authenticated caller identity
// injected by the fronting proxy. Authentication itself happens upstream;
// the gateway only refuses requests that arrive without an identity.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID := r.Header.Get("X-Caller-Id")
		if callerID == "" {
			writeError(w, http.StatusUnauthorized, "missing_identity", "missing X-Caller-Id header")
			return
		}

		caller := models.Caller{
			ID:            callerID,
			CreditAccount: r.Header.Get("X-Credit-Account"),
		}

		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORSMiddleware handles CORS
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Caller-Id, X-Credit-Account")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

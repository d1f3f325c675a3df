package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"lunastream/handlers"
	"lunastream/models"
	"lunastream/services/auth"
)

// TokenVerifier validates a bearer token and returns the account it names.
type TokenVerifier interface {
	Verify(token string) (models.User, error)
}

// UserLookup re-reads an account, used by the admin gate so a revoked role
// takes effect before the token expires.
type UserLookup interface {
	GetByID(id int64) (models.User, error)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// bearerToken extracts the token from the Authorization header or, for
// clients that cannot set headers on media elements, the token query
// parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// authMiddleware rejects requests without a valid token and stores the
// authenticated user on the request context.
func authMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "OPTIONS" {
				next.ServeHTTP(w, r)
				return
			}
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			user, err := verifier.Verify(token)
			if err != nil {
				log.Printf("[api] rejected token %s: %v", auth.Fingerprint(token), err)
				writeAuthError(w, http.StatusForbidden, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(handlers.WithUser(r.Context(), user)))
		})
	}
}

// adminMiddleware allows only accounts whose current is_admin flag is set.
// The flag is read from the store, not the token claims.
func adminMiddleware(users UserLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "OPTIONS" {
				next.ServeHTTP(w, r)
				return
			}
			user, ok := handlers.UserFrom(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			current, err := users.GetByID(user.ID)
			if err != nil || !current.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers to all responses
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Range, Accept-Ranges, Content-Length")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

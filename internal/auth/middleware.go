package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/kinsafe/internal/httputil"
)

// Middleware returns a chi middleware that authenticates requests via Bearer token.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return middleware(store, false)
}

// OptionalMiddleware lets requests without an Authorization header through
// anonymously. A header that is present must still carry a valid key.
func OptionalMiddleware(store KeyStore) func(http.Handler) http.Handler {
	return middleware(store, true)
}

func middleware(store KeyStore, optional bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if optional {
					next.ServeHTTP(w, r)
					return
				}
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <api-key>")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <api-key>")
				return
			}
			token = strings.TrimSpace(token)
			if token == "" {
				httputil.WriteAuthError(w, reqID, "Empty API key")
				return
			}

			meta, err := store.Lookup(r.Context(), HashKey(token))
			if err != nil {
				slog.ErrorContext(r.Context(), "key lookup failed", "error", err, "key_prefix", safePrefix(token))
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}
			if meta == nil {
				slog.WarnContext(r.Context(), "auth failed: key not found", "key_prefix", safePrefix(token))
				httputil.WriteAuthError(w, reqID, "Invalid API key")
				return
			}

			info := &AuthInfo{
				KeyID:      meta.ID,
				UserID:     meta.UserID,
				RPMLimit:   meta.RPMLimit,
				DailyLimit: meta.DailyLimit,
			}
			next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), info)))
		})
	}
}

// safePrefix returns a safe-to-log prefix of an API key (never the full key).
func safePrefix(key string) string {
	if len(key) > 16 {
		return key[:16] + "..."
	}
	return key
}

package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/af-corp/kinsafe/internal/logging"
)

// Middlewares are the per-group middleware stacks.
type Middlewares struct {
	// OptionalAuth admits anonymous callers; RequireAuth does not.
	OptionalAuth func(http.Handler) http.Handler
	RequireAuth  func(http.Handler) http.Handler
	RateLimit    func(http.Handler) http.Handler
}

// NewRouter mounts all routes.
func NewRouter(h *Handler, mw Middlewares) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			use(r, mw.OptionalAuth, mw.RateLimit)
			r.Post("/predict", h.Predict)
		})

		r.Group(func(r chi.Router) {
			use(r, mw.RequireAuth)
			r.Get("/settings/model", h.GetModelSettings)
			r.Put("/settings/model", h.PutModelSettings)
			r.Get("/keys", h.ListKeys)
			r.Post("/keys", h.CreateKey)
			r.Delete("/keys/{id}", h.RevokeKey)
			r.Get("/usage", h.GetUsage)
		})
	})
	return r
}

func use(r chi.Router, mws ...func(http.Handler) http.Handler) {
	for _, m := range mws {
		if m != nil {
			r.Use(m)
		}
	}
}

// RequestID propagates or assigns X-Request-ID and stores it in the
// request context for logging.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" || len(reqID) > 128 {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := logging.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixMilli(), hex.EncodeToString(b))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

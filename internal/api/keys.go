package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/httputil"
)

const (
	defaultKeyTTL = 365 * 24 * time.Hour
	maxKeyTTL     = 5 * 365 * 24 * time.Hour
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type createKeyRequest struct {
	auth.NewKey
	ExpiresIn string `json:"expiresIn,omitempty"`
}

// ListKeys handles GET /api/keys.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	info, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	keys, err := h.Keys.List(r.Context(), info.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list api keys", "user_id", info.UserID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to list API keys")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

// CreateKey handles POST /api/keys. The raw key is only ever returned here.
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	info, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	var req createKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON body")
		return
	}
	if err := validate.Struct(req.NewKey); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid key request: "+err.Error())
		return
	}

	ttl := defaultKeyTTL
	if req.ExpiresIn != "" {
		d, err := auth.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 || d > maxKeyTTL {
			httputil.WriteBadRequestError(w, reqID, "expiresIn must be a positive duration such as 30d, at most 5 years")
			return
		}
		ttl = d
	}

	nk := req.NewKey
	nk.UserID = info.UserID
	nk.Env = h.Config().Server.KeyEnv
	nk.TTL = ttl

	created, err := h.Keys.Create(r.Context(), nk)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create api key", "user_id", info.UserID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to create API key")
		return
	}
	slog.InfoContext(r.Context(), "api key created", "user_id", info.UserID, "key_id", created.ID, "key_prefix", created.KeyPrefix)
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// RevokeKey handles DELETE /api/keys/{id}.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	info, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		httputil.WriteBadRequestError(w, reqID, "key id is required")
		return
	}

	if err := h.Keys.Revoke(r.Context(), info.UserID, keyID); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			httputil.WriteNotFoundError(w, reqID, "API key not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to revoke api key", "user_id", info.UserID, "key_id", keyID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to revoke API key")
		return
	}
	slog.InfoContext(r.Context(), "api key revoked", "user_id", info.UserID, "key_id", keyID)
	w.WriteHeader(http.StatusNoContent)
}

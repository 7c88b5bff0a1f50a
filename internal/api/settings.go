package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/httputil"
	"github.com/af-corp/kinsafe/internal/settings"
	"github.com/af-corp/kinsafe/internal/types"
)

// GetModelSettings handles GET /api/settings/model.
func (h *Handler) GetModelSettings(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	info, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	ms, err := h.Settings.Get(r.Context(), info.UserID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load model settings", "user_id", info.UserID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to load model settings")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ms)
}

// PutModelSettings handles PUT /api/settings/model.
func (h *Handler) PutModelSettings(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	info, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	var in types.SettingsInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&in); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON body")
		return
	}

	saved, err := h.Settings.Put(r.Context(), info.UserID, in.Resolve())
	if err != nil {
		var verr *settings.ValidationError
		if errors.As(err, &verr) {
			httputil.WriteBadRequestError(w, reqID, verr.Error())
			return
		}
		slog.ErrorContext(r.Context(), "failed to save model settings", "user_id", info.UserID, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to save model settings")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, saved)
}

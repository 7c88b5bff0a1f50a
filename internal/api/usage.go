package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/httputil"
	"github.com/af-corp/kinsafe/internal/usage"
)

type usageResponse struct {
	Today  int64         `json:"today"`
	Recent []usage.Entry `json:"recent"`
}

// GetUsage handles GET /api/usage. ?limit caps the number of recent entries.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	info, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	limit := h.Config().Usage.RecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			httputil.WriteBadRequestError(w, reqID, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	resp := usageResponse{Recent: []usage.Entry{}}
	if h.Counter != nil {
		n, err := h.Counter.Today(r.Context(), usage.UserSubject(info.UserID))
		if err != nil {
			slog.WarnContext(r.Context(), "failed to read usage counter", "user_id", info.UserID, "error", err)
		}
		resp.Today = n
	}
	if h.History != nil {
		entries, err := h.History.Recent(r.Context(), info.UserID, limit)
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to list usage", "user_id", info.UserID, "error", err)
			httputil.WriteInternalError(w, reqID, "Failed to load usage history")
			return
		}
		resp.Recent = entries
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/classifier"
	"github.com/af-corp/kinsafe/internal/httputil"
	"github.com/af-corp/kinsafe/internal/policy"
	"github.com/af-corp/kinsafe/internal/types"
	"github.com/af-corp/kinsafe/internal/usage"
)

const maxPredictBody = 64 << 10

// PredictResponse is the body returned for every completed classification.
type PredictResponse struct {
	Prediction     string          `json:"prediction"`
	Probability    float64         `json:"probability"`
	Classification types.Status    `json:"classification"`
	Details        PredictDetails  `json:"details"`
	ResponseTime   int64           `json:"responseTime"`
	RawResponse    string          `json:"rawResponse"`
	ModelUsed      string          `json:"modelUsed"`
	Settings       PredictSettings `json:"settings"`
	Source         types.Source    `json:"source"`
	Alert          policy.Decision `json:"alert"`
}

type PredictDetails struct {
	Explanation    string       `json:"explanation"`
	RiskLevel      float64      `json:"risk_level"`
	Classification types.Status `json:"classification"`
}

type PredictSettings struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

func newPredictResponse(res *types.AnalysisResult, alert policy.Decision) PredictResponse {
	return PredictResponse{
		Prediction:     res.Reason,
		Probability:    res.Confidence,
		Classification: res.Status,
		Details: PredictDetails{
			Explanation:    res.Reason,
			RiskLevel:      res.Confidence,
			Classification: res.Status,
		},
		ResponseTime: res.ResponseTimeMs,
		RawResponse:  res.RawBackendResponse,
		ModelUsed:    res.ModelUsed,
		Settings: PredictSettings{
			Temperature: res.Settings.Temperature,
			MaxTokens:   res.Settings.MaxTokens,
		},
		Source: res.Source,
		Alert:  alert,
	}
}

// Predict handles POST /api/predict.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	ctx := r.Context()

	var body types.AnalysisRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPredictBody)).Decode(&body); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "message" {
			httputil.WriteBadRequestError(w, reqID, "message must be a string")
			return
		}
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON body")
		return
	}
	if body.Message == nil {
		httputil.WriteBadRequestError(w, reqID, "message is required")
		return
	}
	message := *body.Message
	if strings.TrimSpace(message) == "" {
		httputil.WriteBadRequestError(w, reqID, "message must not be empty")
		return
	}

	info, authed := auth.AuthFromContext(ctx)
	var userID, keyID string
	var ms *types.ModelSettings
	if authed {
		userID, keyID = info.UserID, info.KeyID
		stored, err := h.Settings.Get(ctx, userID)
		if err != nil {
			slog.WarnContext(ctx, "failed to load model settings, using defaults", "user_id", userID, "error", err)
		} else {
			ms = &stored
		}
	}

	res, err := h.Classifier.Classify(ctx, message, ms)
	if err != nil {
		if errors.Is(err, classifier.ErrInvalidInput) {
			httputil.WriteBadRequestError(w, reqID, err.Error())
			return
		}
		slog.ErrorContext(ctx, "classification failed", "error", err)
		httputil.WriteInternalError(w, reqID, "Internal error during classification")
		return
	}

	now := h.now()
	alert := policy.Decision{Severity: "none"}
	if h.Policy != nil {
		alert = h.Policy.Decide(ctx, policy.NewInput(res, userID, now))
		if alert.Notify {
			slog.InfoContext(ctx, "verdict flagged for guardian review",
				"user_id", userID,
				"status", res.Status,
				"severity", alert.Severity,
			)
			if h.Metrics != nil {
				h.Metrics.RecordAlert(alert.Severity)
			}
		}
	}

	h.recordUsage(r, res, userID, keyID, alert)

	slog.InfoContext(ctx, "message classified",
		"status", res.Status,
		"confidence", res.Confidence,
		"source", res.Source,
		"model", res.ModelUsed,
		"response_time_ms", res.ResponseTimeMs,
		"authenticated", authed,
	)
	httputil.WriteJSON(w, http.StatusOK, newPredictResponse(res, alert))
}

func (h *Handler) recordUsage(r *http.Request, res *types.AnalysisResult, userID, keyID string, alert policy.Decision) {
	ctx := r.Context()
	if h.Counter != nil {
		subjects := []string{usage.AnonymousSubject(clientIP(r))}
		if userID != "" {
			subjects = []string{usage.UserSubject(userID), usage.KeySubject(keyID)}
		}
		for _, s := range subjects {
			if _, err := h.Counter.Incr(ctx, s); err != nil {
				slog.WarnContext(ctx, "failed to increment usage counter", "subject", s, "error", err)
			}
		}
	}
	if h.Recorder != nil && userID != "" {
		h.Recorder.Record(usage.NewEntry(res, userID, keyID, alert.Notify, alert.Severity, h.now()))
	}
}

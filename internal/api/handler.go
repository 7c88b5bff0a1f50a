// Package api exposes the classification service over HTTP.
package api

import (
	"context"
	"time"

	"github.com/af-corp/kinsafe/internal/auth"
	"github.com/af-corp/kinsafe/internal/config"
	"github.com/af-corp/kinsafe/internal/policy"
	"github.com/af-corp/kinsafe/internal/settings"
	"github.com/af-corp/kinsafe/internal/telemetry"
	"github.com/af-corp/kinsafe/internal/types"
	"github.com/af-corp/kinsafe/internal/usage"
)

type Classifier interface {
	Classify(ctx context.Context, message string, s *types.ModelSettings) (*types.AnalysisResult, error)
}

type UsageRecorder interface {
	Record(e usage.Entry) bool
}

type UsageCounter interface {
	Incr(ctx context.Context, subject string) (int64, error)
	Today(ctx context.Context, subject string) (int64, error)
}

type UsageHistory interface {
	Recent(ctx context.Context, userID string, limit int) ([]usage.Entry, error)
}

type AlertPolicy interface {
	Decide(ctx context.Context, in policy.Input) policy.Decision
}

// HealthReporter reports per-backend circuit states.
type HealthReporter interface {
	States() map[string]string
}

// Deps are the collaborators of Handler. Recorder, Counter, History,
// Policy and Backends may be nil.
type Deps struct {
	Classifier Classifier
	Settings   settings.Store
	Keys       auth.KeyManager
	Recorder   UsageRecorder
	Counter    UsageCounter
	History    UsageHistory
	Policy     AlertPolicy
	Backends   HealthReporter
	Config     func() *config.Config
	Metrics    *telemetry.Metrics
	Version    string
}

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	Deps
	now func() time.Time
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, now: time.Now}
}

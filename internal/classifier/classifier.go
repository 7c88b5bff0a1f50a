// Package classifier turns free text into a SAFE / SUSPICIOUS / DANGEROUS
// verdict by prompting a text-generation backend, and falls back to a local
// phrase heuristic whenever the backend cannot produce a usable answer.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/af-corp/kinsafe/internal/backend"
	"github.com/af-corp/kinsafe/internal/config"
	"github.com/af-corp/kinsafe/internal/filter/injection"
	"github.com/af-corp/kinsafe/internal/telemetry"
	"github.com/af-corp/kinsafe/internal/types"
)

// ErrInvalidInput is returned for an empty or whitespace-only message.
var ErrInvalidInput = errors.New("message must be a non-empty string")

// Fallback reasons, also used as metric labels.
const (
	fallbackNoBackend = "no_backend"
	fallbackTransport = "transport"
	fallbackContract  = "contract"
)

const defaultBackendTimeout = 10 * time.Second

const steeringReasonSuffix = " (message attempts to dictate the verdict)"

// Classifier holds the dependencies of a classification call. All of them
// are safe for concurrent use.
type Classifier struct {
	registry  *backend.Registry
	health    *backend.HealthTracker
	modelsCfg func() *config.ModelsConfig
	cfg       func() *config.Config
	heuristic *Heuristic
	guard     *injection.Scanner
	metrics   *telemetry.Metrics
	template  string
	now       func() time.Time
}

// Option customizes a Classifier.
type Option func(*Classifier)

// WithPromptTemplate overrides DefaultPromptTemplate.
func WithPromptTemplate(t string) Option {
	return func(c *Classifier) { c.template = t }
}

func New(
	registry *backend.Registry,
	health *backend.HealthTracker,
	modelsCfg func() *config.ModelsConfig,
	cfg func() *config.Config,
	heuristic *Heuristic,
	guard *injection.Scanner,
	metrics *telemetry.Metrics,
	opts ...Option,
) *Classifier {
	c := &Classifier{
		registry:  registry,
		health:    health,
		modelsCfg: modelsCfg,
		cfg:       cfg,
		heuristic: heuristic,
		guard:     guard,
		metrics:   metrics,
		template:  DefaultPromptTemplate,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns a verdict for message. A backend that answers with an
// undecodable envelope is treated like one that breaks the verdict
// contract: it stays healthy and the call falls back. Backend failures are
// absorbed into the heuristic fallback; the only error returned for a
// well-formed call is ErrInvalidInput.
func (c *Classifier) Classify(ctx context.Context, message string, settings *types.ModelSettings) (*types.AnalysisResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrInvalidInput
	}

	effective := settings.WithDefaults()
	cfg := c.cfg()

	route, err := backend.Resolve(c.modelsCfg(), c.registry, c.health, string(effective.ModelVersion))
	if route.Version != "" {
		effective.ModelVersion = types.ModelVersion(route.Version)
	}
	start := c.now()

	if err != nil {
		slog.Warn("no backend available, using heuristic",
			"model_version", route.Version,
			"error", err,
		)
		return c.fallback(message, route, effective, start, fallbackNoBackend), nil
	}

	prompt := BuildPrompt(c.template, message)

	timeout := cfg.Classifier.BackendTimeout
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := route.Backend.Generate(callCtx, backend.GenerateRequest{
		Model:         route.Model,
		Prompt:        prompt,
		Temperature:   effective.Temperature,
		MaxTokens:     effective.MaxTokens,
		TopP:          cfg.Classifier.TopP,
		RepeatPenalty: cfg.Classifier.RepeatPenalty,
	})
	var envErr *backend.EnvelopeError
	if errors.As(err, &envErr) {
		// The backend answered; only the payload is unusable.
		c.health.RecordSuccess(route.Backend.Name())
		if c.metrics != nil {
			c.metrics.RecordBackendFailure(route.Backend.Name(), failureKind(err))
		}
		slog.Warn("backend reply envelope undecodable, using heuristic",
			"backend", route.Backend.Name(),
			"model", route.Model,
			"error", err,
		)
		return c.fallback(message, route, effective, start, fallbackContract), nil
	}
	if err != nil {
		c.recordBackendFailure(ctx, route, err)
		slog.Warn("backend call failed, using heuristic",
			"backend", route.Backend.Name(),
			"model", route.Model,
			"error", err,
		)
		return c.fallback(message, route, effective, start, fallbackTransport), nil
	}
	c.health.RecordSuccess(route.Backend.Name())

	verdict, err := ParseVerdict(resp.Text)
	if err != nil {
		slog.Warn("backend reply violated output contract, using heuristic",
			"backend", route.Backend.Name(),
			"model", route.Model,
			"error", err,
		)
		return c.fallback(message, route, effective, start, fallbackContract), nil
	}

	verdict = c.applyGuard(message, verdict)

	result := &types.AnalysisResult{
		Status:             verdict.Status,
		Confidence:         verdict.Confidence,
		Reason:             verdict.Reason,
		RawBackendResponse: verdict.Raw,
		ModelUsed:          modelLabel(resp.Model, route.Model),
		Backend:            route.Backend.Name(),
		Source:             types.SourceBackend,
		Settings:           effective,
	}
	c.finish(result, start)
	return result, nil
}

func (c *Classifier) fallback(message string, route backend.Route, settings types.ModelSettings, start time.Time, reason string) *types.AnalysisResult {
	verdict, hits := c.heuristic.Evaluate(message)
	if len(hits) > 0 {
		slog.Debug("heuristic indicators matched", "rules", hits)
	}
	if c.metrics != nil {
		c.metrics.RecordFallback(reason)
	}

	result := &types.AnalysisResult{
		Status:     verdict.Status,
		Confidence: verdict.Confidence,
		Reason:     verdict.Reason,
		ModelUsed:  route.Model,
		Source:     types.SourceHeuristic,
		Settings:   settings,
	}
	c.finish(result, start)
	return result
}

// applyGuard distrusts a SAFE verdict for a message that tries to dictate
// its own classification.
func (c *Classifier) applyGuard(message string, v Verdict) Verdict {
	if c.guard == nil || v.Status.Level() > types.StatusSafe.Level() {
		return v
	}
	res := c.guard.Check(message)
	if !res.Steering {
		return v
	}

	rules := make([]string, 0, len(res.Detections))
	for _, d := range res.Detections {
		rules = append(rules, d.RuleName)
	}
	slog.Warn("steering attempt overrode SAFE verdict",
		"score", res.Score,
		"rules", rules,
	)
	if c.metrics != nil {
		c.metrics.RecordSteeringOverride()
	}

	v.Status = types.StatusSuspicious
	v.Confidence = max(v.Confidence, res.Score*100)
	v.Reason += steeringReasonSuffix
	return v
}

// recordBackendFailure charges the failure to the backend's circuit unless
// the caller went away first.
func (c *Classifier) recordBackendFailure(ctx context.Context, route backend.Route, err error) {
	if ctx.Err() == nil || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		c.health.RecordFailure(route.Backend.Name())
	} else {
		c.health.Release(route.Backend.Name())
	}
	if c.metrics != nil {
		c.metrics.RecordBackendFailure(route.Backend.Name(), failureKind(err))
	}
}

func (c *Classifier) finish(result *types.AnalysisResult, start time.Time) {
	elapsed := c.now().Sub(start)
	result.ResponseTimeMs = elapsed.Milliseconds()
	if c.metrics != nil {
		c.metrics.RecordClassification(string(result.Status), string(result.Source), result.ModelUsed, elapsed)
	}
}

// failureKind buckets backend errors for metrics.
func failureKind(err error) string {
	var statusErr *backend.StatusError
	var envErr *backend.EnvelopeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("status_%d", statusErr.StatusCode)
	case errors.As(err, &envErr):
		return "envelope"
	default:
		return "transport"
	}
}

func modelLabel(reported, routed string) string {
	if reported != "" {
		return reported
	}
	return routed
}

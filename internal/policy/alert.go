// Package policy decides which verdicts are flagged for guardian review.
// Decisions come from a Rego policy queried at data.kinsafe.alert.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/af-corp/kinsafe/internal/config"
	"github.com/af-corp/kinsafe/internal/types"
)

const query = "data.kinsafe.alert"

// Input is the document the policy is evaluated against.
type Input struct {
	Verdict VerdictInput `json:"verdict"`
	User    UserInput    `json:"user"`
	Time    TimeInput    `json:"time"`
}

type VerdictInput struct {
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
}

type UserInput struct {
	ID            string `json:"id"`
	Authenticated bool   `json:"authenticated"`
}

type TimeInput struct {
	Hour int    `json:"hour"`
	Day  string `json:"day"`
}

// Decision is the policy outcome for one verdict.
type Decision struct {
	Notify   bool   `json:"notify"`
	Severity string `json:"severity"`
}

// NewInput builds the policy input for a result at time now.
func NewInput(result *types.AnalysisResult, userID string, now time.Time) Input {
	return Input{
		Verdict: VerdictInput{
			Status:     string(result.Status),
			Confidence: result.Confidence,
			Source:     string(result.Source),
		},
		User: UserInput{ID: userID, Authenticated: userID != ""},
		Time: TimeInput{Hour: now.Hour(), Day: now.Weekday().String()},
	}
}

// failClosed is the decision used when the policy cannot be evaluated:
// only DANGEROUS verdicts notify.
func failClosed(status string) Decision {
	if status == string(types.StatusDangerous) {
		return Decision{Notify: true, Severity: "high"}
	}
	return Decision{Severity: "none"}
}

// Evaluator evaluates the alert policy.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
}

// NewEvaluator creates a policy evaluator. Call Load() to compile policies.
func NewEvaluator(cfg func() config.PolicyConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles Rego modules from the bundle path, or the built-in policy
// when no bundle path is configured.
func (e *Evaluator) Load() error {
	cfg := e.cfg()
	modules := DefaultModules()
	if cfg.BundlePath != "" {
		loaded, err := LoadRegoFiles(cfg.BundlePath)
		if err != nil {
			return fmt.Errorf("load rego files: %w", err)
		}
		if len(loaded) == 0 {
			slog.Warn("no rego files found, using built-in alert policy", "path", cfg.BundlePath)
		} else {
			modules = loaded
		}
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	slog.Info("alert policy loaded", "modules", len(modules))
	return nil
}

// LoadFromModules compiles policies from provided module sources.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(query)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Evaluate runs the policy against input.
func (e *Evaluator) Evaluate(ctx context.Context, input Input) (Decision, error) {
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()

	if prepared == nil {
		return Decision{}, fmt.Errorf("no policies loaded")
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("policy evaluation: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("no policy result")
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
	}

	notify, _ := doc["notify"].(bool)
	severity, _ := doc["severity"].(string)
	if severity == "" {
		severity = "none"
	}
	return Decision{Notify: notify, Severity: severity}, nil
}

// Decide evaluates the policy and never fails: a disabled evaluator or an
// evaluation error yields the fail-closed decision.
func (e *Evaluator) Decide(ctx context.Context, input Input) Decision {
	if !e.Enabled() {
		return failClosed(input.Verdict.Status)
	}
	d, err := e.Evaluate(ctx, input)
	if err != nil {
		slog.Error("alert policy evaluation failed", "error", err)
		return failClosed(input.Verdict.Status)
	}
	return d
}

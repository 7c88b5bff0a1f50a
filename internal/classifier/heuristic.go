package classifier

import (
	"sync/atomic"

	"github.com/af-corp/kinsafe/internal/types"
)

const (
	reasonHarmful = "Message contains potentially harmful patterns"
	reasonSafe    = "Message appears safe"
)

// Confidence bands: [low, high).
var (
	suspiciousBand = [2]float64{80, 100}
	safeBand       = [2]float64{0, 30}
)

// Heuristic is the local fallback used when no backend verdict is available.
type Heuristic struct {
	pack  atomic.Pointer[Rulepack]
	rng   Rand
	fixed func() bool
}

// NewHeuristic builds a fallback over pack. fixed reports whether band
// midpoints replace random draws; nil means random.
func NewHeuristic(pack *Rulepack, rng Rand, fixed func() bool) *Heuristic {
	if rng == nil {
		rng = NewLockedRand(nil)
	}
	if fixed == nil {
		fixed = func() bool { return false }
	}
	h := &Heuristic{rng: rng, fixed: fixed}
	h.pack.Store(pack)
	return h
}

// SetRulepack swaps the indicator set used by later evaluations.
func (h *Heuristic) SetRulepack(pack *Rulepack) {
	h.pack.Store(pack)
}

// Rulepack returns the indicator set currently in use.
func (h *Heuristic) Rulepack() *Rulepack {
	return h.pack.Load()
}

// Evaluate returns the heuristic verdict and the IDs of the rules that
// fired.
func (h *Heuristic) Evaluate(message string) (Verdict, []string) {
	hits := h.pack.Load().Match(message)
	if len(hits) > 0 {
		return Verdict{
			Status:     types.StatusSuspicious,
			Confidence: h.draw(suspiciousBand),
			Reason:     reasonHarmful,
		}, hits
	}
	return Verdict{
		Status:     types.StatusSafe,
		Confidence: h.draw(safeBand),
		Reason:     reasonSafe,
	}, nil
}

func (h *Heuristic) draw(band [2]float64) float64 {
	lo, hi := band[0], band[1]
	if h.fixed() {
		return (lo + hi) / 2
	}
	v := lo + h.rng.Float64()*(hi-lo)
	if v >= hi {
		v = lo
	}
	return v
}

// Package injection detects text that tries to steer the classifier's
// verdict instead of being judged by it.
package injection

import (
	"github.com/af-corp/kinsafe/internal/config"
)

// Detection records a matched pattern.
type Detection struct {
	RuleName string
	Severity float64
	Category string
	Start    int
	End      int
}

// Result summarizes a scan.
type Result struct {
	Detections []Detection
	Score      float64
	Steering   bool
}

type Scanner struct {
	rules []Rule
	cfg   func() config.GuardConfig
}

func NewScanner(cfg func() config.GuardConfig) *Scanner {
	return &Scanner{rules: DefaultRules(), cfg: cfg}
}

func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Scan checks a single text string and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, r := range s.rules {
		locs := r.Regex.FindAllStringIndex(text, -1)
		for _, loc := range locs {
			detections = append(detections, Detection{
				RuleName: r.Name,
				Severity: r.Severity,
				Category: r.Category,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	return detections
}

// Check scans text and compares the highest severity with the block threshold.
func (s *Scanner) Check(text string) Result {
	if !s.Enabled() {
		return Result{}
	}
	detections := s.Scan(text)
	score := 0.0
	for _, d := range detections {
		if d.Severity > score {
			score = d.Severity
		}
	}
	return Result{
		Detections: detections,
		Score:      score,
		Steering:   len(detections) > 0 && score >= s.cfg().BlockThreshold,
	}
}

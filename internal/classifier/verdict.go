package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/af-corp/kinsafe/internal/types"
)

const (
	defaultConfidence = 50.0
	defaultReason     = "No reason provided"
)

// ErrContractViolation marks backend output that is not the expected JSON
// verdict object.
var ErrContractViolation = errors.New("backend contract violation")

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// Verdict is a coerced backend answer.
type Verdict struct {
	Status     types.Status
	Confidence float64
	Reason     string
	// Raw is the parsed object re-serialized, kept for auditing.
	Raw string
}

// ParseVerdict extracts the JSON object from generated text and applies the
// coercion rules: unknown status becomes SUSPICIOUS, a missing or
// non-numeric confidence becomes 50 and is clamped to [0,100], a missing
// reason becomes "No reason provided". Text without a JSON object yields an
// error wrapping ErrContractViolation.
func ParseVerdict(text string) (Verdict, error) {
	candidate, err := extractObject(text)
	if err != nil {
		return Verdict{}, err
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrContractViolation, err)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return Verdict{}, fmt.Errorf("re-serialize verdict: %w", err)
	}

	return Verdict{
		Status:     coerceStatus(obj["status"]),
		Confidence: coerceConfidence(obj["confidence"]),
		Reason:     coerceReason(obj["reason"]),
		Raw:        string(raw),
	}, nil
}

// extractObject strips reasoning blocks and markdown fences, then returns
// the outermost {...} span.
func extractObject(text string) (string, error) {
	s := thinkBlock.ReplaceAllString(text, "")
	if m := codeFence.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in %q", ErrContractViolation, truncate(s, 120))
	}
	return s[start : end+1], nil
}

func coerceStatus(v any) types.Status {
	s, _ := v.(string)
	return types.CoerceStatus(s)
}

func coerceConfidence(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
		if err != nil {
			return defaultConfidence
		}
		f = parsed
	default:
		return defaultConfidence
	}
	return clampConfidence(f)
}

func clampConfidence(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultConfidence
	}
	return math.Max(0, math.Min(100, f))
}

func coerceReason(v any) string {
	switch x := v.(type) {
	case string:
		if strings.TrimSpace(x) == "" {
			return defaultReason
		}
		return x
	case nil:
		return defaultReason
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return defaultReason
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

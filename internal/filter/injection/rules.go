package injection

import "regexp"

// Rule defines a steering detection pattern.
type Rule struct {
	Name     string
	Regex    *regexp.Regexp
	Severity float64 // 0.0 to 1.0
	Category string  // "instruction_bypass", "role_override", "verdict_steering", "output_steering"
}

// DefaultRules returns the built-in detection rules. Besides generic prompt
// injection they cover text that tries to dictate the classifier's verdict.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "ignore_previous",
			Regex:    regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
			Severity: 0.95,
			Category: "instruction_bypass",
		},
		{
			Name:     "disregard_prior",
			Regex:    regexp.MustCompile(`(?i)disregard\s+(all\s+)?(prior|previous)\s+(instructions|context|rules)`),
			Severity: 0.95,
			Category: "instruction_bypass",
		},
		{
			Name:     "verdict_dictation",
			Regex:    regexp.MustCompile(`(?i)(classify|mark|label|rate)\s+(this|the\s+message|it)\s+(as\s+)?"?safe"?`),
			Severity: 0.95,
			Category: "verdict_steering",
		},
		{
			Name:     "status_injection",
			Regex:    regexp.MustCompile(`(?i)"?status"?\s*:\s*"?safe"?`),
			Severity: 0.9,
			Category: "verdict_steering",
		},
		{
			Name:     "jailbreak",
			Regex:    regexp.MustCompile(`(?i)(do\s+anything\s+now|jailbreak|unrestricted\s+mode)`),
			Severity: 0.9,
			Category: "role_override",
		},
		{
			Name:     "system_prefix",
			Regex:    regexp.MustCompile(`(?i)^\s*system\s*:\s*`),
			Severity: 0.85,
			Category: "role_override",
		},
		{
			Name:     "new_instructions",
			Regex:    regexp.MustCompile(`(?i)(new|updated|revised)\s+instructions?\s*:`),
			Severity: 0.8,
			Category: "instruction_bypass",
		},
		{
			Name:     "response_prefix",
			Regex:    regexp.MustCompile(`(?i)respond\s+(only\s+)?with\s*:?\s*(sure|safe|ok)`),
			Severity: 0.75,
			Category: "output_steering",
		},
		{
			Name:     "you_are_now",
			Regex:    regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the)\s+`),
			Severity: 0.7,
			Category: "role_override",
		},
	}
}

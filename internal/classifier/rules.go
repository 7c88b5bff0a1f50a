package classifier

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"gopkg.in/yaml.v3"
)

// DefaultLocale is used when no rulepack matches the configured locale.
const DefaultLocale = "en"

type rawRulepack struct {
	Locale string    `yaml:"locale"`
	Rules  []rawRule `yaml:"rules"`
}

type rawRule struct {
	ID      string   `yaml:"id"`
	Type    string   `yaml:"type"`
	Pattern string   `yaml:"pattern"`
	Phrases []string `yaml:"phrases"`
}

type regexRule struct {
	ID      string
	Pattern *regexp.Regexp
}

// Rulepack is a compiled set of risk indicators for one locale. Phrases are
// matched on whole words against normalized text; regex rules run on the
// same normalized text.
type Rulepack struct {
	Locale    string
	regexes   []regexRule
	phrases   []string
	phraseIDs []string
	matcher   *ahocorasick.Matcher
}

// builtinRulepacks holds the indicator lists shipped with the binary.
var builtinRulepacks = map[string]rawRulepack{
	"en": {
		Locale: "en",
		Rules: []rawRule{
			{ID: "personal_info", Type: "phrases", Phrases: []string{
				"personal", "address", "home address", "where do you live", "phone number",
				"what school", "which school", "send a pic", "send a photo", "send pics",
			}},
			{ID: "secrecy", Type: "phrases", Phrases: []string{
				"secret", "secrets", "our secret", "keep it secret", "don't tell", "dont tell",
			}},
			{ID: "age", Type: "phrases", Phrases: []string{"age", "how old", "your age"}},
			{ID: "alone", Type: "phrases", Phrases: []string{"alone", "home alone", "by yourself"}},
			{ID: "meeting", Type: "phrases", Phrases: []string{
				"meet", "meet up", "meet me", "come over", "pick you up",
			}},
			{ID: "clothing", Type: "phrases", Phrases: []string{
				"clothes", "clothing", "undress", "what are you wearing",
			}},
			{ID: "parents", Type: "phrases", Phrases: []string{
				"parents", "your mom", "your dad", "your parents",
			}},
			{ID: "romance", Type: "phrases", Phrases: []string{
				"boyfriend", "girlfriend", "date", "kiss", "love you",
			}},
			{ID: "private_room", Type: "phrases", Phrases: []string{
				"your room", "bedroom", "private room",
			}},
			{ID: "age_question", Type: "regex", Pattern: `\bhow\s+old\s+(are|r)\s+(you|u)\b`},
			{ID: "meet_request", Type: "regex", Pattern: `\b(let'?s|wanna|want\s+to)\s+meet\b`},
		},
	},
}

// LoadRulepack returns the rulepack for locale. YAML files in dir (when set)
// take precedence over the built-in packs; an unknown locale falls back to
// DefaultLocale.
func LoadRulepack(dir, locale string, logger *slog.Logger) (*Rulepack, error) {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		locale = DefaultLocale
	}

	if dir != "" {
		for _, raw := range readRulepackDir(dir, logger) {
			if strings.EqualFold(raw.Locale, locale) {
				return compileRulepack(raw)
			}
		}
	}

	raw, ok := builtinRulepacks[locale]
	if !ok {
		if logger != nil {
			logger.Warn("rulepack_locale_unknown", "locale", locale, "fallback", DefaultLocale)
		}
		raw = builtinRulepacks[DefaultLocale]
	}
	return compileRulepack(raw)
}

func readRulepackDir(dir string, logger *slog.Logger) []rawRulepack {
	var paths []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			continue
		}
		paths = append(paths, matches...)
	}

	packs := make([]rawRulepack, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if logger != nil {
				logger.Warn("rulepack_read_failed", "path", path, "err", err)
			}
			continue
		}
		var raw rawRulepack
		if err := yaml.Unmarshal(data, &raw); err != nil {
			if logger != nil {
				logger.Warn("rulepack_parse_failed", "path", path, "err", err)
			}
			continue
		}
		packs = append(packs, raw)
	}
	return packs
}

func compileRulepack(raw rawRulepack) (*Rulepack, error) {
	pack := &Rulepack{Locale: raw.Locale}

	for _, rule := range raw.Rules {
		switch strings.ToLower(strings.TrimSpace(rule.Type)) {
		case "regex":
			if rule.ID == "" || rule.Pattern == "" {
				return nil, fmt.Errorf("rulepack %s: invalid regex rule %q", raw.Locale, rule.ID)
			}
			re, err := regexp.Compile("(?i)" + rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rulepack %s: rule %s: %w", raw.Locale, rule.ID, err)
			}
			pack.regexes = append(pack.regexes, regexRule{ID: rule.ID, Pattern: re})
		case "phrases":
			if rule.ID == "" || len(rule.Phrases) == 0 {
				return nil, fmt.Errorf("rulepack %s: invalid phrases rule %q", raw.Locale, rule.ID)
			}
			for _, phrase := range rule.Phrases {
				p := normalizeText(phrase)
				if strings.TrimSpace(p) == "" {
					continue
				}
				pack.phrases = append(pack.phrases, p)
				pack.phraseIDs = append(pack.phraseIDs, rule.ID)
			}
		default:
			return nil, fmt.Errorf("rulepack %s: unknown rule type %q", raw.Locale, rule.Type)
		}
	}

	if len(pack.phrases) > 0 {
		pack.matcher = ahocorasick.NewStringMatcher(pack.phrases)
	}
	return pack, nil
}

// Match reports the IDs of the rules that fire on text. The input is
// normalized first, so callers pass raw user text.
func (p *Rulepack) Match(text string) []string {
	normalized := normalizeText(text)

	var hits []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		hits = append(hits, id)
	}

	if p.matcher != nil {
		for _, idx := range p.matcher.MatchThreadSafe([]byte(normalized)) {
			add(p.phraseIDs[idx])
		}
	}
	for _, r := range p.regexes {
		if r.Pattern.MatchString(normalized) {
			add(r.ID)
		}
	}
	return hits
}

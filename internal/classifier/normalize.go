package classifier

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// normalizeText folds text to NFKC lower case and collapses every run of
// characters other than letters, digits and apostrophes into one space. The
// result is padded with a space on both sides so a padded phrase only
// matches on word boundaries.
func normalizeText(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
			space = false
		case r == '’':
			b.WriteByte('\'')
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

package types

import "strings"

type Status string

const (
	StatusSafe       Status = "SAFE"
	StatusSuspicious Status = "SUSPICIOUS"
	StatusDangerous  Status = "DANGEROUS"
)

// Level returns a numeric risk level for comparison.
// Higher values mean more risk.
func (s Status) Level() int {
	switch s {
	case StatusSafe:
		return 0
	case StatusSuspicious:
		return 1
	case StatusDangerous:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the three verdict values.
func (s Status) Valid() bool {
	return s.Level() >= 0
}

// ParseStatus accepts surrounding whitespace and any letter case.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", false
	}
	return st, true
}

// CoerceStatus maps anything outside the enum to SUSPICIOUS.
func CoerceStatus(s string) Status {
	if st, ok := ParseStatus(s); ok {
		return st
	}
	return StatusSuspicious
}

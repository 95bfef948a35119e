package util

import (
	"math"
	"strconv"
	"strings"
)

// IsDigits reports whether s is a non-empty run of ASCII digits. Signs,
// decimal points and surrounding spaces all fail the check.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// DigitTokens splits s on sep, trims each token and keeps only the ones that
// pass IsDigits, preserving order.
func DigitTokens(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if IsDigits(p) {
			out = append(out, p)
		}
	}
	return out
}

// ParseDecimal parses a finite decimal number, tolerating surrounding
// whitespace and a decimal comma when no dot is present. A comma followed by
// exactly three digits is a thousands separator, not a decimal comma.
func ParseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		whole, frac, _ := strings.Cut(s, ",")
		if len(frac) == 3 && IsDigits(frac) {
			return 0, false
		}
		s = whole + "." + frac
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseInteger parses a base-10 integer, also accepting whole-valued
// decimals such as "3.0".
func ParseInteger(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	f, ok := ParseDecimal(s)
	if !ok || f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(f), true
}

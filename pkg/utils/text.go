package utils

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonDigits = regexp.MustCompile(`[^0-9]`)
var whitespaceRun = regexp.MustCompile(`\s+`)

// FoldAccents strips combining marks, so "Évjárat" becomes "Evjarat".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeLabel folds accents, lowercases, collapses whitespace and drops a trailing colon.
// Used to compare page labels against the known label table.
func NormalizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = FoldAccents(strings.TrimSpace(s))
	s = strings.TrimRight(s, ": ")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.ToLower(s)
}

// CollapseSpace trims s and collapses internal whitespace (including NBSP) to single spaces.
func CollapseSpace(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// ParseDigits keeps only ASCII digits of s and parses them.
// "3 990 000 Ft" yields 3990000; ok is false when no digit is present.
func ParseDigits(s string) (int64, bool) {
	digits := nonDigits.ReplaceAllString(s, "")
	if digits == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

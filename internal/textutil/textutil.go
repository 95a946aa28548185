// Package textutil provides text normalization helpers for scraped course
// and lecture metadata.
package textutil

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var titleCaser = cases.Title(language.English, cases.NoLower)

// Clean normalizes scraped text to NFC and collapses internal whitespace.
// Echo pages routinely carry non-breaking spaces and decomposed accents.
func Clean(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, " ", " ")
	return strings.Join(strings.Fields(s), " ")
}

// TitleIfShouty converts an all-caps scraped title into title case, leaving
// mixed-case input untouched.
func TitleIfShouty(s string) string {
	s = Clean(s)
	if s == "" {
		return s
	}
	if s == strings.ToUpper(s) && s != strings.ToLower(s) {
		return titleCaser.String(strings.ToLower(s))
	}
	return s
}

// FoldKey returns a case-folded NFC key for matching names across syncs.
func FoldKey(s string) string {
	return strings.ToLower(Clean(s))
}

// FormatTimestamp renders a second offset as H:MM:SS or M:SS.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds + 0.5)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

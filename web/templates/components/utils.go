package components

import (
	"html/template"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/mergestat/timediff"
)

// FormatRelativeTime formats a time.Time as a relative time string like "3 days ago"
func FormatRelativeTime(t time.Time) string {
	return timediff.TimeDiff(t)
}

// FormatDate formats a time.Time for tooltips, e.g. "Jan 2, 2006 15:04"
func FormatDate(t time.Time) string {
	return t.Format("Jan 2, 2006 15:04")
}

// FormatCount formats a count with thousands separators
func FormatCount(n int) string {
	return humanize.Comma(int64(n))
}

// Excerpt shortens s to at most n runes, adding an ellipsis when cut.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n])) + "…"
}

// Edited reports whether updated is noticeably later than created.
func Edited(created, updated time.Time) bool {
	return updated.Sub(created) > time.Second
}

// Funcs returns the helpers available to every page template.
func Funcs() template.FuncMap {
	return template.FuncMap{
		"relativeTime": FormatRelativeTime,
		"date":         FormatDate,
		"count":        FormatCount,
		"excerpt":      Excerpt,
		"edited":       Edited,
	}
}

package dispatch

import (
	"regexp"
	"strings"
)

// temporalSuffixes are trailing tokens stripped from search queries.
// Agents tend to append them, and the corpus has no recency signal for
// them to match. Longer phrases come first so they win over prefixes.
var temporalSuffixes = []string{
	"this week",
	"this month",
	"this year",
	"currently",
	"recently",
	"latest",
	"recent",
	"today",
	"now",
}

// isoDateSuffix matches a trailing calendar date such as 2026-08-24.
var isoDateSuffix = regexp.MustCompile(`\d{4}-\d{2}-\d{2}$`)

// CleanQuery strips trailing temporal tokens and dates from a query.
// The transform is deterministic and idempotent. A query that would be
// emptied entirely is returned unchanged.
func CleanQuery(query string) string {
	original := strings.TrimSpace(query)
	s := original

	for {
		trimmed := strings.TrimRight(s, " \t\n.,;:!?")
		next, changed := stripOneSuffix(trimmed)
		if !changed {
			break
		}
		s = next
	}

	if s == "" {
		return original
	}
	return s
}

// stripOneSuffix removes a single trailing temporal token or date.
func stripOneSuffix(s string) (string, bool) {
	lower := strings.ToLower(s)
	for _, tok := range temporalSuffixes {
		if !strings.HasSuffix(lower, tok) {
			continue
		}
		cut := len(s) - len(tok)
		if cut > 0 && !isBoundary(s[cut-1]) {
			continue
		}
		return strings.TrimSpace(s[:cut]), true
	}

	if loc := isoDateSuffix.FindStringIndex(s); loc != nil {
		if loc[0] == 0 || isBoundary(s[loc[0]-1]) {
			return strings.TrimSpace(s[:loc[0]]), true
		}
	}
	return s, false
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', ',', '.', ';', ':', '(', '-':
		return true
	}
	return false
}

package search

import (
	"strings"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

// fuzzyRatio is a Levenshtein-distance-based similarity in [0,100], used
// only by the keyword-only fallback path (step 1 of §4.8) where no
// embedding model is available. No third-party fuzzy-match library appears
// anywhere in the example corpus, so this stays on plain string
// manipulation (see DESIGN.md).
func fuzzyRatio(a, b string) int {
	a, b = fold.String(a), fold.String(b)
	if a == b {
		return 100
	}
	dist := levenshtein(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	ratio := 100 - (dist*100)/maxLen
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// containsFold substring-matches needle in haystack, case-insensitively —
// the matching rule §4.8 specifies for text-field filters ("cook" matches
// "cooking").
func containsFold(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(fold.String(haystack), fold.String(needle))
}

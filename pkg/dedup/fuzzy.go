package dedup

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// tokenSortSimilarity is the fuzzy-similarity metric from §4.2/§9:
// whitespace-tokenize both strings, sort the tokens, rejoin, and compute a
// normalized Levenshtein similarity. This is symmetric, order-insensitive
// at the token level, and deterministic, matching the Design Notes'
// replacement requirements for the source's token-sorted-ratio metric.
func tokenSortSimilarity(a, b string) float64 {
	sortedA := tokenSort(a)
	sortedB := tokenSort(b)

	if sortedA == sortedB {
		return 1.0
	}

	maxLen := len(sortedA)
	if len(sortedB) > maxLen {
		maxLen = len(sortedB)
	}
	if maxLen == 0 {
		return 1.0
	}

	dist := levenshtein.ComputeDistance(sortedA, sortedB)
	similarity := 1.0 - float64(dist)/float64(maxLen)
	if similarity < 0 {
		similarity = 0
	}
	return similarity
}

func tokenSort(s string) string {
	tokens := strings.Fields(strings.ToLower(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

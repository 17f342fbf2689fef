package interview

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/dshills/loopgraph/graph"
)

// DefaultSimilarityThreshold is the normalized Levenshtein similarity at
// which two best hypotheses count as the same.
const DefaultSimilarityThreshold = 0.85

// Similar judges two iterations duplicates when they answered the same
// question and their best hypotheses are at least threshold similar.
// A threshold outside (0, 1] uses DefaultSimilarityThreshold.
func Similar(threshold float64) graph.Similarity[Iteration] {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return func(a, b Iteration) bool {
		if a.Question != b.Question {
			return false
		}
		return TextSimilarity(a.key(), b.key()) >= threshold
	}
}

// TextSimilarity is 1 minus the Levenshtein distance divided by the length
// of the longer string, in runes. Two empty strings are identical.
func TextSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

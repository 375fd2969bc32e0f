// Package scoring implements the comparison and grading engine: string
// similarity, reference matching, oracle-assisted batch grading, transcript
// segmentation and the collaboration, legal and canvas graders.
package scoring

import (
	"github.com/dlegrain/EVAL-COSEP/pkg/textx"
)

// ExtraContentScore is the similarity reported when nothing was expected but
// something was received.
const ExtraContentScore = 40.0

// Similarity returns a score in [0,100] between expected and received after
// normalization, derived from their Levenshtein distance.
func Similarity(expected, received string) float64 {
	a := []rune(textx.Normalize(expected))
	b := []rune(textx.Normalize(received))
	switch {
	case len(a) == 0 && len(b) == 0:
		return 100
	case len(b) == 0:
		return 0
	case len(a) == 0:
		return ExtraContentScore
	}
	d := Levenshtein(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return clamp((1-float64(d)/float64(longest))*100, 0, 100)
}

// Levenshtein returns the edit distance between a and b with unit costs.
func Levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

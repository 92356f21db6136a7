// Package suggest ranks candidates by how closely they match typed input,
// for command argument completion and "did you mean" hints.
package suggest

import (
	"cmp"
	"slices"
	"strings"

	"github.com/agext/levenshtein"
	"go.minekube.com/brigodier"
)

const (
	// DefaultMinimumSimilarityScore is the lowest score Similar suggests.
	DefaultMinimumSimilarityScore = 0.2
	// closestMinimumScore is the lowest score Closest accepts as a typo.
	closestMinimumScore = 0.5
)

// Similar suggests the candidates scoring at least
// DefaultMinimumSimilarityScore against the last word of the input.
func Similar(builder *brigodier.SuggestionsBuilder, candidates []string) *brigodier.SuggestionsBuilder {
	return SimilarScore(builder, candidates, DefaultMinimumSimilarityScore)
}

// SimilarScore is Similar with a custom minimum score.
func SimilarScore(builder *brigodier.SuggestionsBuilder, candidates []string, minScore float64) *brigodier.SuggestionsBuilder {
	input := builder.Input
	if input == "" {
		return builder
	}
	given := input[strings.LastIndex(input, " ")+1:]
	for _, text := range Rank(given, candidates, minScore) {
		builder.Suggest(text)
	}
	return builder
}

// Rank returns the candidates scoring at least minScore against input,
// best match first. Equal scores keep the order of candidates.
func Rank(input string, candidates []string, minScore float64) []string {
	type scored struct {
		text  string
		score float64
	}
	var result []scored
	for _, text := range candidates {
		if s := Score(input, text); s >= minScore {
			result = append(result, scored{text: text, score: s})
		}
	}
	slices.SortStableFunc(result, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})
	texts := make([]string, len(result))
	for i, s := range result {
		texts[i] = s.text
	}
	return texts
}

// Closest returns the candidate input most likely is a typo of.
func Closest(input string, candidates []string) (string, bool) {
	best, bestScore := "", 0.0
	for _, text := range candidates {
		if strings.EqualFold(text, input) {
			return text, true
		}
		if s := levenshtein.Similarity(strings.ToLower(input), strings.ToLower(text), nil); s > bestScore {
			best, bestScore = text, s
		}
	}
	return best, bestScore >= closestMinimumScore
}

// Score returns how similar input is to candidate in the range 0..1,
// ignoring case. Only as many runes of candidate as input has are
// compared, so every prefix of candidate scores 1.
func Score(input, candidate string) float64 {
	in, c := []rune(strings.ToLower(input)), []rune(strings.ToLower(candidate))
	if len(c) > len(in) {
		c = c[:len(in)]
	}
	return levenshtein.Similarity(string(in), string(c), nil)
}

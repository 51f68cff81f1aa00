package sync

import (
	"strings"
	"unicode"
)

// Similarity thresholds used by conflict classification. Two versions at
// or above nearIdenticalThreshold differ only cosmetically (whitespace,
// punctuation) and are treated as a timestamp conflict rather than a
// content conflict.
const (
	nearIdenticalThreshold = 0.95
	moderateThreshold      = 0.70
	lowThreshold           = 0.40
)

// similarity scores two texts in [0, 1] with a Dice coefficient over
// word tokens. Punctuation and whitespace are stripped during
// tokenization, so versions that differ only cosmetically score 1.0.
func similarity(a, b []byte) float64 {
	ta := tokenize(a)
	tb := tokenize(b)

	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}

	if len(ta) == 0 || len(tb) == 0 {
		return 0.0
	}

	counts := make(map[string]int, len(ta))
	for _, tok := range ta {
		counts[tok]++
	}

	common := 0

	for _, tok := range tb {
		if counts[tok] > 0 {
			counts[tok]--
			common++
		}
	}

	return 2.0 * float64(common) / float64(len(ta)+len(tb))
}

// tokenize splits text into lowercased word tokens, dropping everything
// that is not a letter or digit.
func tokenize(text []byte) []string {
	return strings.FieldsFunc(strings.ToLower(string(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

package tokens

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// extendWindow is how many runes past a prefix that no longer fits are still
// tried. BPE counts are not strictly monotonic in prefix length: a rune can
// merge with the next one into a single token.
const extendWindow = 8

// Trim returns the longest prefix of text whose estimated token count does
// not exceed maxTokens. The cut always falls on a rune boundary.
func Trim(estimator Estimator, text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if estimator.Estimate(text) <= maxTokens {
		return text
	}

	if bpe, ok := estimator.(*BPEEstimator); ok {
		candidate := bpe.prefix(text, maxTokens)
		if strings.HasPrefix(text, candidate) && bpe.Estimate(candidate) <= maxTokens {
			return extend(estimator, text, len(candidate), maxTokens)
		}
	}

	// Binary search over rune boundaries; offsets[i] is the byte offset
	// of the end of the i-th rune prefix.
	offsets := make([]int, 0, len(text)+1)
	offsets = append(offsets, 0)
	for i := range text {
		if i > 0 {
			offsets = append(offsets, i)
		}
	}
	offsets = append(offsets, len(text))

	// First prefix length that no longer fits; everything before it fits.
	n := sort.Search(len(offsets), func(i int) bool {
		return estimator.Estimate(text[:offsets[i]]) > maxTokens
	})
	if n == 0 {
		return ""
	}
	return extend(estimator, text, offsets[n-1], maxTokens)
}

// extend grows a fitting prefix text[:end] one rune at a time, keeping the
// longest prefix that fits and giving up after extendWindow misses in a row.
func extend(estimator Estimator, text string, end, maxTokens int) string {
	best := end
	misses := 0
	for end < len(text) && misses < extendWindow {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
		if estimator.Estimate(text[:end]) <= maxTokens {
			best = end
			misses = 0
			continue
		}
		misses++
	}
	return text[:best]
}

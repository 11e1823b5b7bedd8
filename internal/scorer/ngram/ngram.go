// Package ngram extracts the contiguous n-grams of a unit sequence. Each
// n-gram is its units joined by single spaces, which is the phrase form the
// frequency stores and matchers work with.
package ngram

import "strings"

// Extract returns every contiguous n-gram of units for each length in
// [nMin, nMax]: all n-grams of the shortest length first, left to right,
// then the next length, and so on. A sequence shorter than nMin, or an
// empty length range, yields an empty result. nMin values below 1 are
// treated as 1.
func Extract(units []string, nMin, nMax int) []string {
	if nMin < 1 {
		nMin = 1
	}
	if nMax > len(units) {
		nMax = len(units)
	}
	if nMax < nMin {
		return nil
	}

	total := 0
	for n := nMin; n <= nMax; n++ {
		total += len(units) - n + 1
	}
	out := make([]string, 0, total)
	for n := nMin; n <= nMax; n++ {
		for i := 0; i+n <= len(units); i++ {
			out = append(out, strings.Join(units[i:i+n], " "))
		}
	}
	return out
}

// UnitLen returns the number of units in a phrase produced by Extract.
func UnitLen(phrase string) int {
	if phrase == "" {
		return 0
	}
	return strings.Count(phrase, " ") + 1
}

// Package fuzzy provides normalized string similarity ratios in [0, 1].
//
// All ratios are built on the indel distance (insertions and deletions only),
// computed as a Wagner-Fischer distance whose substitution cost equals one
// deletion plus one insertion.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/xrash/smetrics"
)

// indel returns the insertion/deletion distance between two rune sequences.
// Runes are remapped onto single bytes so smetrics compares characters rather
// than UTF-8 bytes.
func indel(a, b []rune) int {
	if ka, kb, ok := byteKeys(a, b); ok {
		return smetrics.WagnerFischer(ka, kb, 1, 1, 2)
	}
	return indelRunes(a, b)
}

// byteKeys encodes a and b over a shared alphabet of at most 256 symbols.
func byteKeys(a, b []rune) (string, string, bool) {
	alphabet := make(map[rune]byte)
	encode := func(rs []rune) ([]byte, bool) {
		out := make([]byte, len(rs))
		for i, r := range rs {
			k, seen := alphabet[r]
			if !seen {
				if len(alphabet) == 256 {
					return nil, false
				}
				k = byte(len(alphabet))
				alphabet[r] = k
			}
			out[i] = k
		}
		return out, true
	}
	ka, ok := encode(a)
	if !ok {
		return "", "", false
	}
	kb, ok := encode(b)
	if !ok {
		return "", "", false
	}
	return string(ka), string(kb), true
}

// indelRunes is the two-row Wagner-Fischer fallback for inputs with more
// than 256 distinct runes.
func indelRunes(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
				continue
			}
			curr[j] = min(prev[j], curr[j-1]) + 1
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Ratio is the normalized indel similarity of a and b, measured in
// characters. Two empty strings are identical.
func Ratio(a, b string) float64 {
	return ratio([]rune(a), []rune(b))
}

func ratio(a, b []rune) float64 {
	total := len(a) + len(b)
	if total == 0 {
		return 1
	}
	return 1 - float64(indel(a, b))/float64(total)
}

// PartialRatio is the best Ratio between the shorter string and any
// same-length window of the longer one. Windows hanging off either edge of the
// longer string are included, so a prefix or suffix overlap still scores.
// Either string empty yields 0.
func PartialRatio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}

	best := 0.0
	consider := func(window []rune) bool {
		if r := ratio(short, window); r > best {
			best = r
		}
		return best >= 1
	}

	n, m := len(short), len(long)
	for i := 1; i < n; i++ {
		if consider(long[:i]) {
			return 1
		}
	}
	for i := 0; i <= m-n; i++ {
		if consider(long[i : i+n]) {
			return 1
		}
	}
	for i := m - n + 1; i < m; i++ {
		if consider(long[i:]) {
			return 1
		}
	}
	return best
}

// TokenSetRatio compares the whitespace token sets of a and b. The shared
// tokens are compared against each side's full token set, and the two full
// sets against each other; the best of the three wins. When one side's tokens
// are a subset of the other's the result is 1. Either side without tokens
// yields 0.
func TokenSetRatio(a, b string) float64 {
	tokensA := tokenSet(a)
	tokensB := tokenSet(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	var sect, onlyA, onlyB []string
	for t := range tokensA {
		if _, ok := tokensB[t]; ok {
			sect = append(sect, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tokensB {
		if _, ok := tokensA[t]; !ok {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(sect)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	if len(sect) > 0 && (len(onlyA) == 0 || len(onlyB) == 0) {
		return 1
	}

	sectJoined := strings.Join(sect, " ")
	combA := joinNonEmpty(sectJoined, strings.Join(onlyA, " "))
	combB := joinNonEmpty(sectJoined, strings.Join(onlyB, " "))

	best := Ratio(combA, combB)
	if sectJoined == "" {
		return best
	}
	if r := Ratio(sectJoined, combA); r > best {
		best = r
	}
	if r := Ratio(sectJoined, combB); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + " " + b
}

package registry

import (
	"strings"
	"unicode"
)

// filler words carry no identity in facility names
var filler = map[string]struct{}{
	"pool":      {},
	"aquatics":  {},
	"center":    {},
	"swimming":  {},
	"community": {},
}

// Normalize lowercases s, turns punctuation into spaces and collapses whitespace
func Normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}

func stripFiller(norm string) string {
	fields := strings.Fields(norm)
	kept := fields[:0:0]
	for _, f := range fields {
		if _, ok := filler[f]; !ok {
			kept = append(kept, f)
		}
	}
	return strings.Join(kept, " ")
}

func keyTokens(norm string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, f := range strings.Fields(stripFiller(norm)) {
		if len(f) <= 1 {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity is the Jaccard ratio of the key tokens of a and b, in [0, 1]
func Similarity(a, b string) float64 {
	return jaccard(keyTokens(Normalize(a)), keyTokens(Normalize(b)))
}

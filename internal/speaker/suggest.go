// Package speaker ranks previously used speaker display names against a
// partially typed name, so the rename flow can suggest "Alice Hartmann" when
// the user types "alys hartman". It combines Double Metaphone phonetic
// encoding with Jaro-Winkler string similarity:
//
//  1. Phonetic candidate filtering: names sharing at least one Double
//     Metaphone code with the query qualify at the lower phonetic threshold.
//  2. Jaro-Winkler ranking: remaining names qualify only above the stricter
//     fuzzy threshold.
//
// Multi-word names are handled by comparing full strings, space-stripped
// strings, and the best pairwise token score.
package speaker

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Suggestion is one ranked candidate display name.
type Suggestion struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically matched name. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic overlap exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher ranks display names against a query. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Matcher configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Rank returns the names from candidates that plausibly match query, best
// first. An empty query or candidate list yields no suggestions. Ties keep
// the candidates' original order, which callers use for recency.
func (m *Matcher) Rank(query string, candidates []string) []Suggestion {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" || len(candidates) == 0 {
		return nil
	}
	queryTokens := strings.Fields(queryLower)
	queryCodes := codesForTokens(queryTokens)

	var out []Suggestion
	for _, name := range candidates {
		nameLower := strings.ToLower(strings.TrimSpace(name))
		if nameLower == "" {
			continue
		}
		nameTokens := strings.Fields(nameLower)

		score := bestJWScore(queryTokens, nameTokens, queryLower, nameLower)
		threshold := m.fuzzyThreshold
		if codesOverlap(queryCodes, codesForTokens(nameTokens)) {
			threshold = m.phoneticThreshold
		}
		if score >= threshold {
			out = append(out, Suggestion{Name: name, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the query
// and a candidate using full strings, space-stripped strings, and the best
// pairwise token comparison.
func bestJWScore(queryTokens, nameTokens []string, queryFull, nameFull string) float64 {
	score := matchr.JaroWinkler(queryFull, nameFull, false)

	if len(queryTokens) > 1 || len(nameTokens) > 1 {
		concatQ := strings.Join(queryTokens, "")
		concatN := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(concatQ, concatN, false); s > score {
			score = s
		}
	}

	for _, qt := range queryTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(qt, nt, false); s > score {
				score = s
			}
		}
	}
	return score
}

// Package phonetic implements [transcript.PhraseMatcher] using Double
// Metaphone phonetic encoding combined with Jaro-Winkler string similarity.
//
// Speech-to-text output often mangles short spoken phrases ("let me chek",
// "led me check"). The matcher slides a window the length of the phrase over
// the words of the utterance and accepts a window when every word pair either
//
//  1. shares a Double Metaphone code and scores at least the phonetic
//     threshold (default 0.70) on Jaro-Winkler similarity, or
//  2. scores at least the fuzzy threshold (default 0.85) on Jaro-Winkler
//     similarity alone.
//
// Punctuation is ignored and comparison is case-insensitive.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a word pair
// that shares a phonetic code. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a word pair with
// no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic phrase matcher. It is read-only after construction
// and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
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

// Contains reports whether text contains a run of words that sounds like
// phrase.
func (m *Matcher) Contains(text, phrase string) bool {
	_, ok := m.Score(text, phrase)
	return ok
}

// Score returns the best mean Jaro-Winkler score over all accepted windows of
// text, and whether any window was accepted.
func (m *Matcher) Score(text, phrase string) (float64, bool) {
	want := words(phrase)
	have := words(text)
	if len(want) == 0 || len(have) < len(want) {
		return 0, false
	}
	wantCodes := make([]map[string]struct{}, len(want))
	for i, w := range want {
		wantCodes[i] = codes(w)
	}

	best, found := 0.0, false
	for start := 0; start+len(want) <= len(have); start++ {
		total := 0.0
		ok := true
		for i, w := range want {
			h := have[start+i]
			score := matchr.JaroWinkler(h, w, false)
			switch {
			case h == w:
				score = 1
			case score >= m.fuzzyThreshold:
			case score >= m.phoneticThreshold && overlap(codes(h), wantCodes[i]):
			default:
				ok = false
			}
			if !ok {
				break
			}
			total += score
		}
		if !ok {
			continue
		}
		if mean := total / float64(len(want)); !found || mean > best {
			best, found = mean, true
		}
	}
	return best, found
}

// words lower-cases s and splits it on anything that is not a letter, digit
// or apostrophe.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// codes returns the Double Metaphone codes of word. Empty codes (produced
// when the word has no consonants) are excluded.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	return out
}

// overlap reports whether the two code sets share at least one code.
func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// Package formula extracts candidate chemical formulas from generated text.
//
// Extraction is purely lexical. A word on a bullet line is treated as a
// formula when it has more than one uppercase letter and at least one digit.
// No stoichiometry or element checking is done, so the heuristic has known
// blind spots that callers rely on:
//
//   - acronyms with digits ("ISO9001", "LFP2") are false positives;
//   - formulas with a single uppercase letter ("C60", "Li7") are missed;
//   - bullets drawn with "-", "•" or numbers are ignored entirely.
package formula

import (
	"strings"
	"unicode"
)

// Formula identifies a candidate material composition.
// Two formulas are equal only if their strings are identical.
type Formula string

// String returns the formula text.
func (f Formula) String() string { return string(f) }

// Strings converts a formula slice into plain strings.
func Strings(fs []Formula) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}

// Set is a membership set of formulas.
type Set map[Formula]struct{}

// NewSet builds a set from the given formulas.
func NewSet(fs ...Formula) Set {
	s := make(Set, len(fs))
	for _, f := range fs {
		s[f] = struct{}{}
	}
	return s
}

// Has reports whether f is in the set. A nil set contains nothing.
func (s Set) Has(f Formula) bool {
	_, ok := s[f]
	return ok
}

// Add inserts formulas into the set.
func (s Set) Add(fs ...Formula) {
	for _, f := range fs {
		s[f] = struct{}{}
	}
}

// Extractor pulls formula-shaped tokens out of bullet lines.
type Extractor struct {
	// Bullet is the line prefix that marks a candidate line.
	Bullet string

	// SpeakerLabel is stripped from the start of a line before the bullet check.
	SpeakerLabel string
}

// NewExtractor creates an extractor with the default "*" bullet and
// "Assistant:" speaker label.
func NewExtractor() *Extractor {
	return &Extractor{
		Bullet:       "*",
		SpeakerLabel: "Assistant:",
	}
}

// Extract returns formula-shaped tokens from text in order of first
// appearance, dropping duplicates and anything in exclude.
func (e *Extractor) Extract(text string, exclude Set) []Formula {
	var out []Formula
	seen := make(Set)

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if e.SpeakerLabel != "" && strings.HasPrefix(line, e.SpeakerLabel) {
			line = strings.TrimSpace(strings.TrimPrefix(line, e.SpeakerLabel))
		}
		if !strings.HasPrefix(line, e.Bullet) {
			continue
		}

		for _, word := range strings.Fields(line) {
			if !IsFormulaShaped(word) {
				continue
			}
			f := Formula(trimTrailingPunct(word))
			if exclude.Has(f) || seen.Has(f) {
				continue
			}
			seen.Add(f)
			out = append(out, f)
		}
	}

	return out
}

// Unfiltered extracts with an empty exclude set.
func (e *Extractor) Unfiltered(text string) []Formula {
	return e.Extract(text, nil)
}

// IsFormulaShaped reports whether word has more than one uppercase letter
// and at least one digit.
func IsFormulaShaped(word string) bool {
	upper, digits := 0, 0
	for _, r := range word {
		switch {
		case unicode.IsUpper(r):
			upper++
		case unicode.IsDigit(r):
			digits++
		}
	}
	return upper > 1 && digits >= 1
}

// trimTrailingPunct drops one trailing rune that is neither alphanumeric
// nor a closing bracket, so "Na2FePO4F," becomes "Na2FePO4F" while
// "Na3V2(PO4)3" and "Li[Ni0.5Mn0.5]" stay intact.
func trimTrailingPunct(word string) string {
	runes := []rune(word)
	last := runes[len(runes)-1]
	if unicode.IsLetter(last) || unicode.IsDigit(last) || last == ')' || last == ']' {
		return word
	}
	return string(runes[:len(runes)-1])
}

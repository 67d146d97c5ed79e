package formula

import (
	"slices"
	"strings"
	"testing"
	"unicode"

	"pgregory.net/rapid"
)

// Property-based tests for extraction invariants.

func formulaGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[A-Z][a-z]?[0-9]{1,2}([A-Z][a-z]?[0-9]?){1,3}(\([A-Z][A-Z]?[0-9]\)[0-9])?`)
}

func textGen() *rapid.Generator[string] {
	word := rapid.OneOf(
		formulaGen(),
		rapid.StringMatching(`[a-z]{1,8}`),
		rapid.StringMatching(`[A-Z]{2,4}[0-9]{1,4}[,.;:!]?`),
		rapid.SampledFrom([]string{"*", "-", "Assistant:", "H2O", "C60", "Na3V2(PO4)3,", "NaMnO2."}),
	)
	line := rapid.Custom(func(t *rapid.T) string {
		prefix := rapid.SampledFrom([]string{"* ", "", "- ", "Assistant: * ", "  * "}).Draw(t, "prefix")
		words := rapid.SliceOfN(word, 0, 6).Draw(t, "words")
		return prefix + strings.Join(words, " ")
	})
	return rapid.Custom(func(t *rapid.T) string {
		return strings.Join(rapid.SliceOfN(line, 0, 6).Draw(t, "lines"), "\n")
	})
}

// TestProperty_ExtractIsIdempotentOnBulletLine verifies that a lone
// formula-shaped token on a bullet line round-trips unchanged.
func TestProperty_ExtractIsIdempotentOnBulletLine(t *testing.T) {
	extractor := NewExtractor()

	rapid.Check(t, func(t *rapid.T) {
		f := formulaGen().Draw(t, "formula")
		if !IsFormulaShaped(f) {
			t.Skip("not formula shaped")
		}

		got := extractor.Extract("* "+f, nil)
		if len(got) != 1 || string(got[0]) != f {
			t.Fatalf("Extract(%q) = %v, want [%s]", "* "+f, got, f)
		}
	})
}

// TestProperty_EveryTokenIsFormulaShaped verifies that every returned token
// has more than one uppercase letter and at least one digit.
func TestProperty_EveryTokenIsFormulaShaped(t *testing.T) {
	extractor := NewExtractor()

	rapid.Check(t, func(t *rapid.T) {
		text := textGen().Draw(t, "text")

		for _, f := range extractor.Extract(text, nil) {
			upper, digits := 0, 0
			for _, r := range string(f) {
				if unicode.IsUpper(r) {
					upper++
				}
				if unicode.IsDigit(r) {
					digits++
				}
			}
			if upper <= 1 || digits < 1 {
				t.Fatalf("token %q is not formula shaped", f)
			}
		}
	})
}

// TestProperty_ExcludeIsSetDifference verifies that extracting with an
// exclude set removes exactly the excluded tokens and nothing else.
func TestProperty_ExcludeIsSetDifference(t *testing.T) {
	extractor := NewExtractor()

	rapid.Check(t, func(t *rapid.T) {
		text := textGen().Draw(t, "text")
		all := extractor.Extract(text, nil)

		var excludeList []Formula
		if len(all) > 0 {
			picked := rapid.SliceOfDistinct(rapid.IntRange(0, len(all)-1), rapid.ID[int]).Draw(t, "picked")
			for _, i := range picked {
				excludeList = append(excludeList, all[i])
			}
		}
		excludeList = append(excludeList, Formula(rapid.StringMatching(`[A-Z]{2}[0-9]`).Draw(t, "extra")))
		exclude := NewSet(excludeList...)

		filtered := extractor.Extract(text, exclude)

		for _, f := range filtered {
			if !slices.Contains(all, f) {
				t.Fatalf("filtered token %q missing from unfiltered result", f)
			}
			if exclude.Has(f) {
				t.Fatalf("excluded token %q returned", f)
			}
		}

		var want []Formula
		for _, f := range all {
			if !exclude.Has(f) {
				want = append(want, f)
			}
		}
		if !slices.Equal(want, filtered) {
			t.Fatalf("filtered = %v, want %v", filtered, want)
		}
	})
}

// TestProperty_NoDuplicates verifies that a single extraction never repeats a token.
func TestProperty_NoDuplicates(t *testing.T) {
	extractor := NewExtractor()

	rapid.Check(t, func(t *rapid.T) {
		text := textGen().Draw(t, "text")
		seen := make(Set)
		for _, f := range extractor.Extract(text, nil) {
			if seen.Has(f) {
				t.Fatalf("duplicate token %q", f)
			}
			seen.Add(f)
		}
	})
}

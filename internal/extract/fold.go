package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lower-cases s and strips diacritics: "Électricité" -> "electricite".
// It is safe for concurrent use.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.ReplaceAll(out, "œ", "oe")
	out = strings.ReplaceAll(out, "Œ", "oe")
	return strings.ToLower(out)
}

// words folds s and replaces every non-alphanumeric rune with a space, with
// a leading and trailing space so that " kw " matches whole words.
func words(s string) string {
	f := Fold(s)
	var b strings.Builder
	b.Grow(len(f) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range f {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// hasWord reports whether the padded text produced by words contains kw as
// whole words, singular or plural.
func hasWord(padded, kw string) bool {
	return strings.Contains(padded, " "+kw+" ") || strings.Contains(padded, " "+kw+"s ") || strings.Contains(padded, " "+kw+"x ")
}

// countWords counts the keywords of kws present in padded.
func countWords(padded string, kws []string) int {
	n := 0
	for _, kw := range kws {
		if hasWord(padded, kw) {
			n++
		}
	}
	return n
}

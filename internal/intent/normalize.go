// Package intent is the deterministic classifier. It normalizes raw chat text
// and runs a declarative keyword table through three matching layers to find
// an order action and its order ids.
package intent

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	spaceRun = regexp.MustCompile(`\s+`)

	invisible = strings.NewReplacer(
		"\u200b", " ", // zero width space separates words on some keyboards
		"\u200c", "",
		"\u200d", "",
		"\u2060", "",
		"\ufeff", "",
	)
)

// Normalize folds compatibility forms into their canonical ASCII shape and
// lower-cases the text. NFKC maps no-break, en, em, thin and ideographic
// spaces to U+0020 and full-width digits to ASCII. Arabic-Indic and
// Devanagari digits are mapped explicitly since NFKC leaves them alone.
func Normalize(raw string) string {
	s := norm.NFKC.String(raw)
	s = invisible.Replace(s)
	s = strings.Map(asciiDigit, s)
	s = cases.Fold().String(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func asciiDigit(r rune) rune {
	switch {
	case r >= '\u0660' && r <= '\u0669':
		return '0' + (r - '\u0660')
	case r >= '\u06f0' && r <= '\u06f9':
		return '0' + (r - '\u06f0')
	case r >= '\u0966' && r <= '\u096f':
		return '0' + (r - '\u0966')
	}
	return r
}

// compact removes all whitespace and trailing punctuation; the tight layer
// runs on this form so "123456 cancel" and "123456cancel" agree.
func compact(normalized string) string {
	s := strings.Join(strings.Fields(normalized), "")
	return strings.TrimRight(s, ".!?,;")
}

package moderation

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var quoteReplacer = strings.NewReplacer(
	"’", "'", "‘", "'", "ʼ", "'",
	"“", `"`, "”", `"`,
)

// leetMap covers the substitutions seen in evasion attempts. Only tokens
// that already contain a letter are rewritten, so "100" stays a number.
var leetMap = map[rune]rune{
	'@': 'a',
	'$': 's',
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
}

// normalize folds text into the form all matchers run on: compatibility
// decomposed with marks stripped, lower-cased, straight quotes, leet
// substitutions undone and whitespace collapsed to single spaces.
func normalize(text string) string {
	folded := fold(text)
	folded = quoteReplacer.Replace(strings.ToLower(folded))

	tokens := strings.Fields(folded)
	for i, tok := range tokens {
		tokens[i] = normalizeLeet(tok)
	}
	return strings.Join(tokens, " ")
}

// fold strips diacritics and maps compatibility forms (full-width letters,
// ligatures) to their plain equivalents.
func fold(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// normalizeLeet rewrites one lower-case token.
func normalizeLeet(tok string) string {
	if !strings.ContainsFunc(tok, unicode.IsLetter) {
		return tok
	}
	rs := []rune(tok)
	for i, r := range rs {
		if sub, ok := leetMap[r]; ok {
			rs[i] = sub
		}
	}
	// '!' and '|' read as 'i' only when wedged between letters ("sh!t").
	for i := 1; i < len(rs)-1; i++ {
		if (rs[i] == '!' || rs[i] == '|') && unicode.IsLetter(rs[i-1]) && unicode.IsLetter(rs[i+1]) {
			rs[i] = 'i'
		}
	}
	return string(rs)
}

// slug reduces a token to its letters and digits after leet rewriting.
func slug(tok string) string {
	tok = normalizeLeet(strings.ToLower(fold(tok)))
	var b strings.Builder
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// squeeze collapses runs of the same rune: "fuuuck" becomes "fuck".
func squeeze(s string) string {
	var b strings.Builder
	prev := rune(-1)
	for _, r := range s {
		if r != prev {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}

package moderation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Mask replaces every profane token in text with its first character
// followed by stars ("shit," becomes "s***,"). Whitespace and surrounding
// punctuation are preserved so the rendering lines up with the original.
func (l *Lexicon) Mask(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				b.WriteString(l.maskToken(text[start:i]))
				start = -1
			}
			b.WriteRune(r)
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		b.WriteString(l.maskToken(text[start:]))
	}
	return b.String()
}

func (l *Lexicon) maskToken(tok string) string {
	lo := strings.IndexFunc(tok, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '@' || r == '$'
	})
	hi := strings.LastIndexFunc(tok, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
	if lo < 0 || hi < lo {
		return tok
	}
	_, lastSize := utf8.DecodeRuneInString(tok[hi:])
	hi += lastSize

	core := tok[lo:hi]
	s := slug(core)
	if !l.maskable[s] && !l.maskable[squeeze(s)] {
		return tok
	}

	first, size := utf8.DecodeRuneInString(core)
	var b strings.Builder
	b.Grow(len(tok))
	b.WriteString(tok[:lo])
	b.WriteRune(first)
	b.WriteString(strings.Repeat("*", utf8.RuneCountInString(core[size:])))
	b.WriteString(tok[hi:])
	return b.String()
}

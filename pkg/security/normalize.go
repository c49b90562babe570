package security

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizedText holds the three views rule families scan: the original
// text, a lowercased form, and a "compact" form with punctuation and
// whitespace stripped out (defeats split-token obfuscation like
// "i g n o r e" or "ignore.previous.instructions").
type NormalizedText struct {
	Original string
	Lowered  string
	Compact  string
}

// Normalize applies NFKC normalization, strips zero-width characters,
// collapses internal whitespace, and derives the lowered/compact views.
func Normalize(s string) NormalizedText {
	s = norm.NFKC.String(s)
	s = stripZeroWidth(s)
	s = collapseWhitespace(s)

	lowered := strings.ToLower(s)

	var compact strings.Builder
	for _, r := range lowered {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			compact.WriteRune(r)
		}
	}

	return NormalizedText{Original: s, Lowered: lowered, Compact: compact.String()}
}

var zeroWidthRunes = map[rune]struct{}{
	'​': {}, // zero width space
	'‌': {}, // zero width non-joiner
	'‍': {}, // zero width joiner
	'\uFEFF': {}, // byte order mark / zero width no-break space
	'⁠': {}, // word joiner
}

func stripZeroWidth(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if _, ok := zeroWidthRunes[r]; ok {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

package matching

import (
	"strings"
	"unicode"
)

// NormalizeName lowercases a name, strips punctuation, and collapses runs of
// whitespace so that "Dostoevsky,  Fyodor" and "dostoevsky fyodor" compare
// equal.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r) || r == '.' || r == ',' || r == '-' || r == '\'':
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

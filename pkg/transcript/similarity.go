package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Similarity scores how alike two utterances read, from 0 to 1, using
// Jaro-Winkler over case- and punctuation-folded text. ASR output and the
// text that was actually spoken rarely match byte for byte.
func Similarity(a, b string) float64 {
	a, b = foldText(a), foldText(b)
	if a == "" || b == "" {
		return 0
	}
	return matchr.JaroWinkler(a, b, true)
}

// foldText lowercases s and collapses punctuation and whitespace runs into
// single spaces.
func foldText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
			space = false
		case !space && b.Len() > 0:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

package bot

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds text for keyword matching: lowercase, diacritics stripped,
// surrounding whitespace trimmed. "Sí" and "SI" both become "si".
func Normalize(text string) string {
	// Transformers carry state, so each call builds its own chain.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(text))
	if err != nil {
		folded = strings.ToLower(text)
	}
	return strings.TrimSpace(folded)
}

package retrieval

import (
	"strings"
	"unicode"
)

// CleanQuery drops every rune that is not a letter, a number, '_' or whitespace.
// Combining marks are dropped; precomposed letters are kept.
func CleanQuery(query string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, query)
}

// FallbackQuery joins the first maxTokens whitespace-delimited tokens with " AND ".
// It returns "" when cleaned has no tokens.
func FallbackQuery(cleaned string, maxTokens int) string {
	tokens := strings.Fields(cleaned)
	if maxTokens > 0 && len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	return strings.Join(tokens, " AND ")
}

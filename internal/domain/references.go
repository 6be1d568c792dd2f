package domain

import (
	"regexp"
	"strings"
)

// headerSeparator matches the shortest leading block that is followed by a line made of
// three or more dashes.
var headerSeparator = regexp.MustCompile(`(?s)\A(.*?)\n-{3,}\n`)

// ExtractHeader returns the trimmed text before the first dash separator line in content,
// or "" when there is none.
func ExtractHeader(content string) string {
	m := headerSeparator.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// JoinReferences prepends the structural header of content to references.
// Without a header the references pass through unchanged.
func JoinReferences(content, references string) string {
	header := ExtractHeader(content)
	switch {
	case header != "" && strings.TrimSpace(references) != "":
		return header + "\n" + references
	case header != "":
		return header
	default:
		return references
	}
}

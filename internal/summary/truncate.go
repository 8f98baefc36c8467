package summary

import "strings"

const truncationMarker = "\n\n[...]\n\n"

// Truncate limits text to at most limit runes. Oversized input keeps its
// opening two thirds and closing third around a "[...]" marker, so both the
// start and the conclusion of a long meeting reach the model. The result
// depends only on text and limit.
func Truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}

	marker := []rune(truncationMarker)
	budget := limit - len(marker)
	if budget <= 0 {
		return string(runes[:limit])
	}

	head := budget * 2 / 3
	tail := budget - head

	var b strings.Builder
	b.Grow(limit * 4)
	b.WriteString(string(runes[:head]))
	b.WriteString(truncationMarker)
	b.WriteString(string(runes[len(runes)-tail:]))
	return b.String()
}

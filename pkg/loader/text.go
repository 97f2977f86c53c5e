package loader

import (
	"strings"
)

// NormalizeText converts line endings to "\n", drops a leading byte order
// mark and removes the Project Gutenberg license header and footer when
// their markers are present.
func NormalizeText(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(stripGutenberg(text))
}

func stripGutenberg(text string) string {
	if i := markerLine(text, "*** START OF"); i >= 0 {
		if nl := strings.IndexByte(text[i:], '\n'); nl >= 0 {
			text = text[i+nl+1:]
		} else {
			text = ""
		}
	}
	if i := markerLine(text, "*** END OF"); i >= 0 {
		text = text[:i]
	}
	return text
}

// markerLine returns the offset of the start of the line holding a
// Gutenberg marker, or -1.
func markerLine(text, marker string) int {
	i := strings.Index(text, marker)
	if i < 0 {
		return -1
	}
	line := text[i:]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	if !strings.Contains(strings.ToUpper(line), "GUTENBERG") {
		return -1
	}
	return strings.LastIndexByte(text[:i], '\n') + 1
}

package pipeline

import (
	"regexp"
	"strings"
)

var chapterHeading = regexp.MustCompile(`(?mi)^\s*chapter\s+\d+\b.*$`)

// splitChapters cuts novel text on chapter headings. Text without headings
// is treated as a single chapter.
func splitChapters(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	locs := chapterHeading.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var chapters []string
	// Keep any preamble before the first heading attached to chapter one.
	start := 0
	for i, loc := range locs {
		if i == 0 {
			continue
		}
		chapter := strings.TrimSpace(text[start:loc[0]])
		if chapter != "" {
			chapters = append(chapters, chapter)
		}
		start = loc[0]
	}
	if last := strings.TrimSpace(text[start:]); last != "" {
		chapters = append(chapters, last)
	}
	return chapters
}

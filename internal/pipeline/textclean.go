package pipeline

import (
	"regexp"
	"strings"
	"unicode"
)

var escapedPunct = regexp.MustCompile(`\\([^\p{L}\p{N}_])`)

// normalizeScrapedText flattens line breaks and strips the escape
// backslashes the scraper leaves in front of punctuation.
func normalizeScrapedText(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	text = strings.ReplaceAll(text, `\'`, `'`)
	text = strings.ReplaceAll(text, `\"`, `"`)
	text = strings.ReplaceAll(text, "\\`", "`")
	return escapedPunct.ReplaceAllString(text, "${1}")
}

// ProcessDescription cleans scraped long-form text. Scraped pages often
// repeat their opening boilerplate, so when the first sentence shows up
// again later everything before its last occurrence is dropped.
func ProcessDescription(text string) string {
	if text == "" {
		return ""
	}
	text = normalizeScrapedText(text)

	firstSentence := strings.TrimSpace(text)
	if i := strings.Index(text, "."); i >= 0 {
		firstSentence = text[:i+1]
	}

	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if last := strings.LastIndex(trimmed, firstSentence); last > 0 {
		return strings.TrimSpace(text[last:])
	}
	return strings.TrimSpace(text)
}

// ProcessBlurb cleans short-form text. Blurbs are written by hand, not
// scraped, so the repeated-opening heuristic does not apply.
func ProcessBlurb(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(normalizeScrapedText(text))
}

// DescriptionLength counts whitespace-separated tokens of cleaned text.
func DescriptionLength(text string) int {
	return len(strings.Fields(text))
}

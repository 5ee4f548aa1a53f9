package textutil

import (
	"html"
	"regexp"
	"strings"
)

var (
	dropTagRe  = regexp.MustCompile(`(?is)<(script|style|head)[^>]*>.*?</(script|style|head)>`)
	blockTagRe = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|td|th|blockquote|pre|table|ul|ol|dl|dt|dd)[^>]*>`)
	anyTagRe   = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML reduces an HTML body to readable plain text. Block elements
// become line breaks, entities are decoded, runs of spaces collapse, and at
// most one blank line separates paragraphs.
func StripHTML(rawHTML string) string {
	text := dropTagRe.ReplaceAllString(rawHTML, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, " ", " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

// BodyText picks the plain text part, falling back to the stripped HTML part.
func BodyText(text, htmlBody string) string {
	if text != "" {
		return text
	}
	if htmlBody != "" {
		return StripHTML(htmlBody)
	}
	return ""
}

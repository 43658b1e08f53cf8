package textclean

import (
	"regexp"
	"strconv"
	"strings"
)

// Regex chain mirrors the original's strip_markdown, in the exact
// order it applies substitutions: fenced code, inline code, images,
// links, headings, bold, italic, strikethrough, block quotes, rules.
var (
	fencedCode    = regexp.MustCompile(`(?s)` + "```" + `.*?` + "```")
	inlineCode    = regexp.MustCompile("`([^`]*)`")
	mdImage       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink        = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdHeading     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdBoldStar    = regexp.MustCompile(`(?s)\*\*(.+?)\*\*`)
	mdBoldScore   = regexp.MustCompile(`(?s)__(.+?)__`)
	mdItalicStar  = regexp.MustCompile(`(?s)\*(.+?)\*`)
	mdItalicScore = regexp.MustCompile(`(?s)(\A|\W)_(.+?)_(\z|\W)`)
	mdStrike      = regexp.MustCompile(`(?s)~~(.+?)~~`)
	mdQuote       = regexp.MustCompile(`(?m)^>\s?`)
	mdRule        = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
)

// StripMarkdown removes Reddit-flavored Markdown formatting, matching
// spec.md §4.E's rule list and the original's exact substitution
// order (code and images resolved before generic links, so a link
// inside a code span is not mistaken for a real link).
func StripMarkdown(text string) string {
	text = fencedCode.ReplaceAllString(text, "")
	// Inline code spans are swapped for placeholders while the remaining
	// rules run, then restored as their bare content.
	var spans []string
	text = inlineCode.ReplaceAllStringFunc(text, func(m string) string {
		spans = append(spans, m[1:len(m)-1])
		return "\x00" + strconv.Itoa(len(spans)-1) + "\x00"
	})
	text = mdImage.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdBoldStar.ReplaceAllString(text, "$1")
	text = mdBoldScore.ReplaceAllString(text, "$1")
	text = mdItalicStar.ReplaceAllString(text, "$1")
	text = mdItalicScore.ReplaceAllString(text, "${1}${2}${3}")
	text = mdStrike.ReplaceAllString(text, "$1")
	text = mdQuote.ReplaceAllString(text, "")
	text = mdRule.ReplaceAllString(text, "")
	for i, s := range spans {
		text = strings.Replace(text, "\x00"+strconv.Itoa(i)+"\x00", s, 1)
	}
	return collapseSpace(text)
}

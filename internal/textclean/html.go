package textclean

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockTags produce a word boundary when they open or close, matching
// spec.md §4.B step 3: "<br> and block boundaries become spaces".
var blockTags = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Li: true,
	atom.Tr: true, atom.Ul: true, atom.Ol: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true,
	atom.H6: true, atom.Blockquote: true, atom.Pre: true,
}

// StripHTML removes tags, decodes entities, turns block boundaries
// into whitespace, collapses runs of whitespace, and trims. It is the
// Go translation of the original's BeautifulSoup-based stripper, tuned
// to match spec.md §4.B step 3 exactly.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return collapseSpace(b.String())
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if blockTags[tok.DataAtom] {
				b.WriteByte(' ')
			}
		}
	}
}

// collapseSpace folds runs of Unicode whitespace to a single ASCII
// space and trims the result, mirroring normalize_topic_name's
// whitespace handling but applied to arbitrary body text.
func collapseSpace(s string) string {
	var b strings.Builder
	inSpace := false
	for _, r := range s {
		if isSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func isSpace(r rune) bool {
	return unicode.IsSpace(r)
}

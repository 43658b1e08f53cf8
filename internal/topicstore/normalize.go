package topicstore

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies Unicode NFC normalization, lowercasing, and
// whitespace collapsing, matching the original's normalize_topic_name
// exactly (spec.md §4.H).
func Normalize(name string) string {
	nfc := norm.NFC.String(name)
	lower := strings.ToLower(strings.TrimSpace(nfc))
	fields := strings.FieldsFunc(lower, unicode.IsSpace)
	return strings.Join(fields, " ")
}

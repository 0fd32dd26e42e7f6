package deferred

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// 【4:0†source】 style annotations emitted by file search, with the
	// spaces or tabs in front of them.
	annotationPattern = regexp.MustCompile(`[ \t]*【[^】]*】`)

	// Bracketed numeric references such as [1] or [1][2], with the spaces
	// or tabs in front of them.
	referencePattern = regexp.MustCompile(`[ \t]*(?:\[\d+\])+`)
)

// StripCitations removes citation markers from a job result. Nothing else
// in the text is touched.
func StripCitations(text string) string {
	if strings.Contains(text, "【") {
		text = annotationPattern.ReplaceAllString(text, "")
	}
	if !referencePattern.MatchString(text) {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range referencePattern.FindAllStringIndex(text, -1) {
		if isIndexExpr(text, m[0]) {
			continue
		}
		b.WriteString(text[last:m[0]])
		last = m[1]
	}
	b.WriteString(text[last:])
	return b.String()
}

// isIndexExpr reports whether the reference match starting at start is glued
// to an identifier or closing bracket, as in x[1] or f()[0].
func isIndexExpr(text string, start int) bool {
	if start == 0 || text[start] != '[' {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:start])
	return r == '_' || r == ')' || r == ']' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

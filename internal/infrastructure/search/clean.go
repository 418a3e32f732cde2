package search

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanText strips markup and entities from a search snippet and collapses
// whitespace.
func CleanText(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return collapseSpaces(raw)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return collapseSpaces(raw)
	}
	return collapseSpaces(doc.Text())
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

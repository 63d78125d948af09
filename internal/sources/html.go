package sources

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var htmlStripper = bluemonday.StrictPolicy()

// stripHTML removes tags, decodes entities and collapses whitespace.
func stripHTML(s string) string {
	s = htmlStripper.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// badgeStatus returns the text of the first <strong> element. Statuspage
// feeds lead each update with the incident state in bold.
func badgeStatus(content string) string {
	if !strings.Contains(content, "<") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(doc.Find("strong").First().Text())
}

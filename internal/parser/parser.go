package parser

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// ParseString builds a mutable document from markup returned by a page source.
// The caller owns the returned tree until it is rendered.
func ParseString(markup string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(markup))
}

// Render serializes the whole document back to markup.
func Render(doc *goquery.Document) (string, error) {
	var buf bytes.Buffer
	for _, node := range doc.Nodes {
		if err := html.Render(&buf, node); err != nil {
			return "", err
		}
	}

	return buf.String(), nil
}

// Title returns the cleaned <title> text, or "" when missing.
func Title(doc *goquery.Document) string {
	return strings.Join(strings.Fields(doc.Find("title").First().Text()), " ")
}

package provider

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const blockSelectors = "p, h2, h3, h4, li, blockquote, figcaption"

// htmlToText flattens an article body into paragraphs separated by blank
// lines. Scripts, styles and embedded media are dropped.
func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, iframe, aside, figure > img").Remove()

	var paragraphs []string
	doc.Find(blockSelectors).Each(func(_ int, sel *goquery.Selection) {
		if sel.ParentsFiltered(blockSelectors).Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
	})

	if len(paragraphs) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.Join(paragraphs, "\n\n")
}

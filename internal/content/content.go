// Package content extracts images, plain text and page metadata from HTML.
package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// contentSelectors are tried in order when looking for the main text block.
var contentSelectors = []string{
	"div.article-content",
	"div.article",
	"div.content",
	"div.main",
	"div.main-content",
	"div.main-content-inner",
	"div.main-inner",
	"div.main-inner-content",
	"div.main-inner-content-inner",
}

var strictPolicy = newStrictPolicy()

func newStrictPolicy() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}

func parse(raw string) (*goquery.Document, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return nil, false
	}
	return doc, true
}

// bodyOf returns the <body> selection, or the whole document without one.
func bodyOf(doc *goquery.Document) *goquery.Selection {
	if body := doc.Find("body"); body.Length() > 0 {
		return body.First()
	}
	return doc.Selection
}

// ExtractImages returns the src of every <img> in the body in document order.
// Duplicates are kept.
func ExtractImages(raw string) []string {
	doc, ok := parse(raw)
	if !ok {
		return nil
	}
	var images []string
	bodyOf(doc).Find("img").Each(func(_ int, s *goquery.Selection) {
		if src := strings.TrimSpace(s.AttrOr("src", "")); src != "" {
			images = append(images, src)
		}
	})
	return images
}

// ExtractPlainText returns the text of the first known content container, or
// all body text when no container matches. It never fails; an empty
// document yields "".
func ExtractPlainText(raw string) string {
	doc, ok := parse(raw)
	if !ok {
		return ""
	}
	body := bodyOf(doc)
	for _, sel := range contentSelectors {
		match := body.Find(sel).First()
		if match.Length() == 0 {
			continue
		}
		inner, err := match.Html()
		if err != nil {
			continue
		}
		if text := sanitizeText(inner); text != "" {
			return text
		}
	}
	body.Find("script, style, noscript").Remove()
	return textNodes(body)
}

// textNodes joins every text node under sel with single spaces.
func textNodes(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return normalizeWhitespace(strings.Join(parts, " "))
}

// StripTags removes all markup from an HTML fragment.
func StripTags(fragment string) string {
	return sanitizeText(fragment)
}

func sanitizeText(fragment string) string {
	return normalizeWhitespace(html.UnescapeString(strictPolicy.Sanitize(fragment)))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

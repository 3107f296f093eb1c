package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Metadata is the page-level information advertised in an HTML head.
type Metadata struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	URL         string `json:"url,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// Meta tag names per field in priority order. OpenGraph and friends are
// matched on both name and property.
var (
	titleMeta       = []string{"title", "og:title", "twitter:title", "weibo:article:title"}
	descriptionMeta = []string{"description", "og:description", "twitter:description", "weibo:article:description"}
	imageMeta       = []string{"image", "promote_image", "og:image", "twitter:image", "weibo:article:image"}
	urlMeta         = []string{"url", "og:url", "twitter:url", "weibo:article:url"}
	iconMeta        = []string{"icon", "og:icon", "twitter:icon", "weibo:article:icon"}
)

// ExtractMetadata reads title, description, image, canonical URL and icon
// from a page. For each field the first non-empty candidate wins.
func ExtractMetadata(raw string) Metadata {
	var m Metadata
	doc, ok := parse(raw)
	if !ok {
		return m
	}

	setIfEmpty(&m.Title, strings.TrimSpace(doc.Find("title").First().Text()))
	setIfEmpty(&m.Title, metaContent(doc, titleMeta))
	setIfEmpty(&m.Description, metaContent(doc, descriptionMeta))
	setIfEmpty(&m.Image, metaContent(doc, imageMeta))
	setIfEmpty(&m.URL, metaContent(doc, urlMeta))
	setIfEmpty(&m.URL, linkHref(doc, "canonical"))
	setIfEmpty(&m.Icon, metaContent(doc, iconMeta))
	setIfEmpty(&m.Icon, linkHref(doc, "icon", "shortcut icon", "apple-touch-icon"))
	return m
}

func setIfEmpty(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func metaContent(doc *goquery.Document, names []string) string {
	for _, name := range names {
		sel := `meta[name="` + name + `"], meta[property="` + name + `"]`
		var found string
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = strings.TrimSpace(s.AttrOr("content", ""))
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

func linkHref(doc *goquery.Document, rels ...string) string {
	for _, rel := range rels {
		href := strings.TrimSpace(doc.Find(`link[rel="` + rel + `"]`).First().AttrOr("href", ""))
		if href != "" {
			return href
		}
	}
	return ""
}

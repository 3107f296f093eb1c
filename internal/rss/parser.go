package rss

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/bryan-buckman/infovore/internal/content"
	"github.com/bryan-buckman/infovore/internal/model"
	"github.com/mmcdole/gofeed"
	strictrss "github.com/mmcdole/gofeed/rss"
)

var (
	// ErrUnparseable is returned when no parsing strategy accepted the payload.
	ErrUnparseable = errors.New("unparseable feed")
	// ErrNoContent means the fetch produced no body to parse.
	ErrNoContent = errors.New("no content fetched")
)

// Feed is a parsed feed normalized for storage.
type Feed struct {
	Title       string
	Description string
	SiteLink    string
	Language    string
	Logo        string
	PubDate     *time.Time
	SourceType  model.SourceType
	Items       []Item
}

// Item is one normalized feed entry.
type Item struct {
	Title       string
	Link        string
	Description string
	PlainText   string
	Images      []string
	Authors     []model.Author
	PublishedAt time.Time
}

// Article converts the item into an article of the given subscription.
func (it Item) Article(subscriptionID int64) model.Article {
	return model.Article{
		SubscriptionID: subscriptionID,
		Title:          it.Title,
		Link:           it.Link,
		Description:    it.Description,
		PlainText:      it.PlainText,
		Images:         model.ImagesFromURLs(it.Images),
		Authors:        it.Authors,
		PublishedAt:    it.PublishedAt,
	}
}

type strategy struct {
	name  string
	parse func(raw []byte) (*gofeed.Feed, error)
}

// Parser turns raw feed bytes into a Feed by trying each strategy in order.
type Parser struct {
	strategies []strategy
}

// NewParser creates a parser with the liberal multi-format strategy first
// and a strict RSS parse of the cleaned payload second.
func NewParser() *Parser {
	return &Parser{strategies: []strategy{
		{name: "universal", parse: parseUniversal},
		{name: "cleaned-rss", parse: parseCleanedRSS},
	}}
}

// gofeed parsers keep per-parse state, so each call gets a fresh one.
func parseUniversal(raw []byte) (*gofeed.Feed, error) {
	return gofeed.NewParser().Parse(bytes.NewReader(raw))
}

// parseCleanedRSS recovers RSS documents served with a byte-order mark,
// output ahead of the XML (server warnings, stray whitespace) or control
// characters XML does not allow.
func parseCleanedRSS(raw []byte) (*gofeed.Feed, error) {
	rp := &strictrss.Parser{}
	f, err := rp.Parse(bytes.NewReader(cleanXML(raw)))
	if err != nil {
		return nil, err
	}
	out, err := (&gofeed.DefaultRSSTranslator{}).Translate(f)
	if err != nil {
		return nil, err
	}
	out.FeedType = "rss"
	return out, nil
}

var (
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
	xmlStarts = [][]byte{[]byte("<?xml"), []byte("<rss"), []byte("<rdf:RDF")}
)

// cleanXML drops a byte-order mark, anything before the XML declaration or
// root element, and characters outside the XML 1.0 Char production.
func cleanXML(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	start := -1
	for _, marker := range xmlStarts {
		if i := bytes.Index(raw, marker); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	if start > 0 {
		raw = raw[start:]
	}
	return bytes.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r < 0x20, r == 0xFFFE, r == 0xFFFF:
			return -1
		}
		return r
	}, raw)
}

// Parse normalizes raw into a Feed. Items without a link are dropped and
// items without a usable date get fetchedAt.
func (p *Parser) Parse(raw []byte, fetchedAt time.Time) (*Feed, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrNoContent
	}
	var lastErr error
	for _, s := range p.strategies {
		parsed, err := s.parse(raw)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", s.name, err)
			continue
		}
		if strings.TrimSpace(parsed.Title) == "" {
			lastErr = fmt.Errorf("%s: feed has no title", s.name)
			continue
		}
		return normalizeFeed(parsed, fetchedAt), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnparseable, lastErr)
}

func normalizeFeed(f *gofeed.Feed, fetchedAt time.Time) *Feed {
	out := &Feed{
		Title:       strings.TrimSpace(f.Title),
		Description: strings.TrimSpace(f.Description),
		SiteLink:    strings.TrimSpace(f.Link),
		Language:    strings.TrimSpace(f.Language),
		PubDate:     firstDate(f.PublishedParsed, f.Published, f.UpdatedParsed, f.Updated),
		SourceType:  sourceTypeOf(f.FeedType),
	}
	if f.Image != nil {
		out.Logo = strings.TrimSpace(f.Image.URL)
	}
	for _, it := range f.Items {
		if it == nil {
			continue
		}
		item, ok := normalizeItem(it, fetchedAt)
		if !ok {
			continue
		}
		out.Items = append(out.Items, item)
	}
	return out
}

func normalizeItem(it *gofeed.Item, fetchedAt time.Time) (Item, bool) {
	link := strings.TrimSpace(it.Link)
	if link == "" && len(it.Links) > 0 {
		link = strings.TrimSpace(it.Links[0])
	}
	if link == "" {
		return Item{}, false
	}

	description := it.Description
	if strings.TrimSpace(description) == "" {
		description = it.Content
	}

	published := fetchedAt
	if d := firstDate(it.PublishedParsed, it.Published, it.UpdatedParsed, it.Updated); d != nil {
		published = *d
	}

	return Item{
		Title:       strings.TrimSpace(it.Title),
		Link:        link,
		Description: description,
		PlainText:   content.ExtractPlainText(description),
		Images:      itemImages(it, description),
		Authors:     itemAuthors(it),
		PublishedAt: published,
	}, true
}

// firstDate returns the published date, else the updated date. Parsed
// values win over the raw strings, which are retried permissively.
func firstDate(publishedParsed *time.Time, published string, updatedParsed *time.Time, updated string) *time.Time {
	if publishedParsed != nil {
		return publishedParsed
	}
	if t, ok := parseDate(published); ok {
		return &t
	}
	if updatedParsed != nil {
		return updatedParsed
	}
	if t, ok := parseDate(updated); ok {
		return &t
	}
	return nil
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func sourceTypeOf(feedType string) model.SourceType {
	switch strings.ToLower(feedType) {
	case "rss":
		return model.SourceRSS
	case "atom":
		return model.SourceAtom
	case "json":
		return model.SourceJSON
	default:
		return model.SourceUnknown
	}
}

// itemImages collects vendor-advertised images first, then <img> tags from
// the description and content. Repeats are dropped.
func itemImages(it *gofeed.Item, description string) []string {
	var images []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		images = append(images, u)
	}

	if it.Image != nil {
		add(it.Image.URL)
	}
	if media, ok := it.Extensions["media"]; ok {
		for _, thumb := range media["thumbnail"] {
			add(thumb.Attrs["url"])
		}
		for _, c := range media["content"] {
			if c.Attrs["medium"] == "image" || strings.HasPrefix(c.Attrs["type"], "image/") {
				add(c.Attrs["url"])
			}
		}
		for _, group := range media["group"] {
			for _, c := range group.Children["content"] {
				if c.Attrs["medium"] == "image" || strings.HasPrefix(c.Attrs["type"], "image/") {
					add(c.Attrs["url"])
				}
			}
		}
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			add(enc.URL)
		}
	}
	for _, src := range content.ExtractImages(description) {
		add(src)
	}
	if it.Content != description {
		for _, src := range content.ExtractImages(it.Content) {
			add(src)
		}
	}
	return images
}

func itemAuthors(it *gofeed.Item) []model.Author {
	var authors []model.Author
	seen := make(map[string]bool)
	add := func(a model.Author) {
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" && a.Email == "" {
			return
		}
		key := a.Name + "\x00" + a.Email
		if seen[key] {
			return
		}
		seen[key] = true
		authors = append(authors, a)
	}

	for _, p := range it.Authors {
		if p != nil {
			add(model.Author{Name: p.Name, Email: p.Email})
		}
	}
	if len(authors) == 0 && it.Author != nil {
		add(model.Author{Name: it.Author.Name, Email: it.Author.Email})
	}
	if it.DublinCoreExt != nil {
		for _, c := range it.DublinCoreExt.Creator {
			add(model.Author{Name: c})
		}
	}
	return authors
}

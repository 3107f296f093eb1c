// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline is a folder when it has children and no xmlUrl, otherwise a feed.
type Outline struct {
	Text        string    `xml:"text,attr"`
	Title       string    `xml:"title,attr,omitempty"`
	Type        string    `xml:"type,attr,omitempty"`
	XMLURL      string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL     string    `xml:"htmlUrl,attr,omitempty"`
	Description string    `xml:"description,attr,omitempty"`
	Language    string    `xml:"language,attr,omitempty"`
	Outlines    []Outline `xml:"outline,omitempty"`
}

// FeedEntry is a feed flattened out of the outline tree.
type FeedEntry struct {
	FolderPath  []string // e.g., ["Tech", "Google"]
	Title       string
	URL         string
	SiteURL     string
	Description string
	Language    string
}

// Parse reads an OPML document and returns its feeds in document order.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			switch {
			case o.XMLURL != "":
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					FolderPath:  append([]string{}, path...),
					Title:       title,
					URL:         o.XMLURL,
					SiteURL:     o.HTMLURL,
					Description: o.Description,
					Language:    o.Language,
				})
			case len(o.Outlines) > 0:
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path, name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export renders entries as an OPML 2.0 document. Folders are nested by
// FolderPath and appear in the order they are first seen.
func Export(title string, entries []FeedEntry, created time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: created.Format(time.RFC1123Z),
		},
	}

	root := &folder{}
	for _, e := range entries {
		f := root
		for _, name := range e.FolderPath {
			f = f.child(name)
		}
		f.items = append(f.items, item{feed: &Outline{
			Text:        e.Title,
			Title:       e.Title,
			Type:        "rss",
			XMLURL:      e.URL,
			HTMLURL:     e.SiteURL,
			Description: e.Description,
			Language:    e.Language,
		}})
	}
	doc.Body.Outlines = root.outlines()

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode opml: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}

type item struct {
	feed   *Outline
	folder *folder
}

type folder struct {
	name   string
	items  []item
	byName map[string]*folder
}

func (f *folder) child(name string) *folder {
	if c, ok := f.byName[name]; ok {
		return c
	}
	if f.byName == nil {
		f.byName = make(map[string]*folder)
	}
	c := &folder{name: name}
	f.byName[name] = c
	f.items = append(f.items, item{folder: c})
	return c
}

func (f *folder) outlines() []Outline {
	out := make([]Outline, 0, len(f.items))
	for _, it := range f.items {
		if it.feed != nil {
			out = append(out, *it.feed)
			continue
		}
		out = append(out, Outline{
			Text:     it.folder.name,
			Title:    it.folder.name,
			Outlines: it.folder.outlines(),
		})
	}
	return out
}

package rss

import (
	"errors"
	"testing"
	"time"

	"github.com/bryan-buckman/infovore/internal/model"
	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Example Feed</title>
  <link>https://example.com/</link>
  <description>An example</description>
  <language>en-us</language>
  <pubDate>Wed, 01 May 2024 08:00:00 GMT</pubDate>
  <item>
    <title>First post</title>
    <link>https://example.com/posts/1</link>
    <description><![CDATA[<p>Hello <img src="https://example.com/inline.png"> world</p>]]></description>
    <pubDate>Wed, 01 May 2024 07:00:00 GMT</pubDate>
    <media:thumbnail url="https://example.com/thumb.jpg"/>
    <dc:creator>Ann Writer</dc:creator>
  </item>
  <item>
    <title>No link</title>
    <description>dropped</description>
  </item>
  <item>
    <title>Undated</title>
    <link>https://example.com/posts/3</link>
    <description>plain</description>
    <pubDate>sometime soon</pubDate>
  </item>
</channel>
</rss>`

const sampleAtom = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <link href="https://atom.example/"/>
  <updated>2024-04-02T10:00:00Z</updated>
  <entry>
    <title>Entry</title>
    <link href="https://atom.example/e/1"/>
    <id>urn:1</id>
    <updated>2024-04-02T09:30:00Z</updated>
    <author><name>Bo</name><email>bo@example.com</email></author>
    <content type="html">&lt;div class="content"&gt;Body &lt;img src="https://atom.example/a.png"&gt;&lt;/div&gt;</content>
  </entry>
</feed>`

func TestParseRSS(t *testing.T) {
	fetchedAt := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	feed, err := NewParser().Parse([]byte(sampleRSS), fetchedAt)
	require.NoError(t, err)

	assert.Equal(t, "Example Feed", feed.Title)
	assert.Equal(t, "https://example.com/", feed.SiteLink)
	assert.Equal(t, "en-us", feed.Language)
	assert.Equal(t, model.SourceRSS, feed.SourceType)
	require.NotNil(t, feed.PubDate)
	assert.True(t, feed.PubDate.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))

	require.Len(t, feed.Items, 2)

	first := feed.Items[0]
	assert.Equal(t, "https://example.com/posts/1", first.Link)
	assert.True(t, first.PublishedAt.Equal(time.Date(2024, 5, 1, 7, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"https://example.com/thumb.jpg", "https://example.com/inline.png"}, first.Images)
	assert.Equal(t, "Hello world", first.PlainText)
	require.Len(t, first.Authors, 1)
	assert.Equal(t, "Ann Writer", first.Authors[0].Name)

	undated := feed.Items[1]
	assert.Equal(t, "Undated", undated.Title)
	assert.Equal(t, fetchedAt, undated.PublishedAt)
	assert.Empty(t, undated.Images)
}

func TestParseAtom(t *testing.T) {
	feed, err := NewParser().Parse([]byte(sampleAtom), time.Now())
	require.NoError(t, err)

	assert.Equal(t, model.SourceAtom, feed.SourceType)
	require.NotNil(t, feed.PubDate)
	require.Len(t, feed.Items, 1)

	entry := feed.Items[0]
	// Updated stands in for a missing published date.
	assert.True(t, entry.PublishedAt.Equal(time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC)))
	assert.Equal(t, []string{"https://atom.example/a.png"}, entry.Images)
	assert.Equal(t, "Body", entry.PlainText)
	assert.Equal(t, []model.Author{{Name: "Bo", Email: "bo@example.com"}}, entry.Authors)
}

func TestParseIsIdempotent(t *testing.T) {
	fetchedAt := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	p := NewParser()
	a, err := p.Parse([]byte(sampleRSS), fetchedAt)
	require.NoError(t, err)
	b, err := p.Parse([]byte(sampleRSS), fetchedAt)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseFailures(t *testing.T) {
	p := NewParser()

	_, err := p.Parse(nil, time.Now())
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = p.Parse([]byte("   \n"), time.Now())
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = p.Parse([]byte("<html><body>not a feed</body></html>"), time.Now())
	assert.ErrorIs(t, err, ErrUnparseable)

	untitled := `<rss version="2.0"><channel><item><link>https://x.example/1</link></item></channel></rss>`
	_, err = p.Parse([]byte(untitled), time.Now())
	assert.ErrorIs(t, err, ErrUnparseable)
}

func TestParseStrategyOrder(t *testing.T) {
	titled := func(title string) func([]byte) (*gofeed.Feed, error) {
		return func([]byte) (*gofeed.Feed, error) {
			return &gofeed.Feed{Title: title, FeedType: "rss"}, nil
		}
	}
	failing := func(msg string) func([]byte) (*gofeed.Feed, error) {
		return func([]byte) (*gofeed.Feed, error) { return nil, errors.New(msg) }
	}

	tests := []struct {
		name       string
		strategies []strategy
		wantTitle  string
		wantErr    string
	}{
		{
			name:       "first valid wins",
			strategies: []strategy{{"a", titled("A")}, {"b", titled("B")}},
			wantTitle:  "A",
		},
		{
			name:       "error falls through",
			strategies: []strategy{{"a", failing("bad xml")}, {"b", titled("B")}},
			wantTitle:  "B",
		},
		{
			name:       "untitled falls through",
			strategies: []strategy{{"a", titled("  ")}, {"b", titled("B")}},
			wantTitle:  "B",
		},
		{
			name:       "last error reported",
			strategies: []strategy{{"a", failing("first")}, {"b", failing("second")}},
			wantErr:    "b: second",
		},
		{
			name:       "untitled last",
			strategies: []strategy{{"a", failing("first")}, {"b", titled("")}},
			wantErr:    "b: feed has no title",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Parser{strategies: tt.strategies}
			feed, err := p.Parse([]byte("<rss/>"), time.Now())
			if tt.wantErr != "" {
				require.ErrorIs(t, err, ErrUnparseable)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, feed.Title)
		})
	}
}

func TestParseRecoversDirtyRSS(t *testing.T) {
	dirty := "\xEF\xBB\xBFWarning: session_start() failed in /var/www/feed.php on line 3\n" + sampleRSS

	_, err := parseUniversal([]byte(dirty))
	require.Error(t, err)

	feed, err := NewParser().Parse([]byte(dirty), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Example Feed", feed.Title)
	assert.Equal(t, model.SourceRSS, feed.SourceType)
	assert.Len(t, feed.Items, 2)
}

func TestCleanXML(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"clean input untouched", "<rss><channel/></rss>", "<rss><channel/></rss>"},
		{"byte-order mark", "\xEF\xBB\xBF<rss/>", "<rss/>"},
		{"leading junk", "Notice: x\n<?xml version=\"1.0\"?><rss/>", "<?xml version=\"1.0\"?><rss/>"},
		{"html before root", "<br />\n<b>Warning</b>\n<rss/>", "<rss/>"},
		{"control characters", "<rss><title>a\x0bb\x00c</title></rss>", "<rss><title>abc</title></rss>"},
		{"whitespace kept", "<rss>\t\r\n</rss>", "<rss>\t\r\n</rss>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(cleanXML([]byte(tt.in))))
		})
	}
}

func TestItemArticle(t *testing.T) {
	it := Item{
		Title:       "T",
		Link:        "https://example.com/1",
		Images:      []string{"https://example.com/1.png"},
		PublishedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	a := it.Article(7)
	assert.Equal(t, int64(7), a.SubscriptionID)
	assert.Equal(t, []string{"https://example.com/1.png"}, a.ImageURLs())
	assert.Equal(t, it.PublishedAt, a.PublishedAt)
}

func TestSourceTypeOf(t *testing.T) {
	assert.Equal(t, model.SourceRSS, sourceTypeOf("rss"))
	assert.Equal(t, model.SourceAtom, sourceTypeOf("atom"))
	assert.Equal(t, model.SourceJSON, sourceTypeOf("json"))
	assert.Equal(t, model.SourceUnknown, sourceTypeOf(""))
}

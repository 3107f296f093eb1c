package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractImages(t *testing.T) {
	tests := []struct {
		name string
		html string
		want []string
	}{
		{
			name: "document order with duplicates",
			html: `<html><body><p><img src="a.png"></p><img src="b.png"><img src="a.png"></body></html>`,
			want: []string{"a.png", "b.png", "a.png"},
		},
		{
			name: "empty src skipped",
			html: `<body><img src=""><img><img src=" c.png "></body>`,
			want: []string{"c.png"},
		},
		{
			name: "fragment without body",
			html: `<div><img src="x.jpg"></div>`,
			want: []string{"x.jpg"},
		},
		{
			name: "head images excluded",
			html: `<html><head><template><img src="head.png"></template></head><body><img src="body.png"></body></html>`,
			want: []string{"body.png"},
		},
		{
			name: "empty document",
			html: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractImages(tt.html))
		})
	}
}

func TestExtractPlainText(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "article content wins over content",
			html: `<body><div class="content">Other</div><div class="article-content"><p>Hello <b>world</b> &amp; friends</p></div></body>`,
			want: "Hello world & friends",
		},
		{
			name: "later selector when earlier missing",
			html: `<body><div class="main"><h1>Title</h1><p>Body text</p></div></body>`,
			want: "Title Body text",
		},
		{
			name: "fallback to body text",
			html: `<html><head><title>ignored</title></head><body><p>One</p><script>var x = 1;</script><p>Two</p></body></html>`,
			want: "One Two",
		},
		{
			name: "empty matching container falls through",
			html: `<body><div class="article"></div><div class="main">Main</div></body>`,
			want: "Main",
		},
		{
			name: "empty document",
			html: "   ",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPlainText(tt.html))
		})
	}
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "a < b", StripTags("<p>a &lt; b</p>"))
	assert.Equal(t, "", StripTags("<script>alert(1)</script>"))
}

func TestExtractMetadata(t *testing.T) {
	page := `<html><head>
		<title>test title</title>
		<meta name="description" content="test description">
		<meta name="og:image" content="test image">
		<meta name="twitter:image" content="test twitter image">
		<meta property="og:url" content="https://example.com/post">
		<link rel="icon" href="/favicon.ico">
	</head><body></body></html>`

	m := ExtractMetadata(page)
	assert.Equal(t, "test title", m.Title)
	assert.Equal(t, "test description", m.Description)
	assert.Equal(t, "test image", m.Image)
	assert.Equal(t, "https://example.com/post", m.URL)
	assert.Equal(t, "/favicon.ico", m.Icon)
}

func TestExtractMetadataFallbacks(t *testing.T) {
	page := `<html><head>
		<meta property="og:title" content="OG Title">
		<meta name="twitter:description" content="">
		<meta name="weibo:article:description" content="weibo description">
		<link rel="canonical" href="https://example.com/canonical">
	</head></html>`

	m := ExtractMetadata(page)
	assert.Equal(t, "OG Title", m.Title)
	assert.Equal(t, "weibo description", m.Description)
	assert.Equal(t, "https://example.com/canonical", m.URL)
	assert.Empty(t, m.Image)
	assert.Empty(t, m.Icon)
}

func TestExtractMetadataEmpty(t *testing.T) {
	assert.Equal(t, Metadata{}, ExtractMetadata(""))
}

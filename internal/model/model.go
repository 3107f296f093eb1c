// Package model defines shared data structures.
package model

import "time"

// Category groups subscriptions. Categories may nest one level below a root.
type Category struct {
	ID          int64
	Title       string
	Description string
	ParentID    *int64 // nullable for root categories
	SortOrder   int
}

// Subscription represents a tracked RSS/Atom/JSON feed source.
type Subscription struct {
	ID          int64
	Title       string
	Description string
	Link        string // feed URL
	SiteLink    string
	Language    string
	Logo        string
	CategoryID  *int64 // nullable if not categorized
	SortOrder   int
	PubDate     *time.Time
	LastBuildAt *time.Time // nil until the first productive refresh
}

// NeverBuilt reports whether the subscription has no productive refresh yet.
func (s Subscription) NeverBuilt() bool {
	return s.LastBuildAt == nil
}

// Image is an image reference attached to an article.
type Image struct {
	URL string `json:"url"`
}

// Author is an article author as advertised by the feed.
type Author struct {
	Name  string `json:"name"`
	URI   string `json:"uri,omitempty"`
	Email string `json:"email,omitempty"`
}

// Article represents a single entry parsed out of a feed.
// Articles are unique per (SubscriptionID, Link).
type Article struct {
	ID             int64
	SubscriptionID int64
	Title          string
	Link           string
	Description    string // raw HTML as published
	PlainText      string
	Images         []Image
	Authors        []Author
	PublishedAt    time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ImageURLs returns the URLs of the article images in order.
func (a Article) ImageURLs() []string {
	urls := make([]string, 0, len(a.Images))
	for _, img := range a.Images {
		urls = append(urls, img.URL)
	}
	return urls
}

// ImagesFromURLs wraps plain URLs into Image values.
func ImagesFromURLs(urls []string) []Image {
	if len(urls) == 0 {
		return nil
	}
	images := make([]Image, 0, len(urls))
	for _, u := range urls {
		images = append(images, Image{URL: u})
	}
	return images
}

// SubscriptionFilter narrows subscription listings.
type SubscriptionFilter struct {
	IDs        []int64
	CategoryID *int64
	Keyword    string // matched against title
}

// ArticleFilter narrows article listings.
type ArticleFilter struct {
	SubscriptionIDs []int64
	Since           *time.Time
	Until           *time.Time
}

// Settings key constants.
const (
	SettingLastCleanupAt = "last_cleanup_at"
)

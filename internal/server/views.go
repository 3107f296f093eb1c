package server

import (
	"time"

	"github.com/bryan-buckman/infovore/internal/model"
)

type pageView[T any] struct {
	Items     []T `json:"items"`
	Total     int `json:"total"`
	Page      int `json:"page"`
	PageSize  int `json:"page_size"`
	PageCount int `json:"page_count"`
}

func newPageView[S, T any](p model.Page[S], conv func(S) T) pageView[T] {
	items := make([]T, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, conv(it))
	}
	return pageView[T]{
		Items:     items,
		Total:     p.Total,
		Page:      p.Page,
		PageSize:  p.PageSize,
		PageCount: p.PageCount,
	}
}

type subscriptionView struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Link        string     `json:"link"`
	SiteLink    string     `json:"site_link,omitempty"`
	Language    string     `json:"language,omitempty"`
	Logo        string     `json:"logo,omitempty"`
	CategoryID  *int64     `json:"category_id,omitempty"`
	SortOrder   int        `json:"sort_order"`
	PubDate     *time.Time `json:"pub_date,omitempty"`
	LastBuildAt *time.Time `json:"last_build_at,omitempty"`
}

func newSubscriptionView(s model.Subscription) subscriptionView {
	return subscriptionView{
		ID:          s.ID,
		Title:       s.Title,
		Description: s.Description,
		Link:        s.Link,
		SiteLink:    s.SiteLink,
		Language:    s.Language,
		Logo:        s.Logo,
		CategoryID:  s.CategoryID,
		SortOrder:   s.SortOrder,
		PubDate:     s.PubDate,
		LastBuildAt: s.LastBuildAt,
	}
}

type buildConfigView struct {
	InitialFrequency   float64    `json:"initial_frequency"`
	FittedFrequency    *float64   `json:"fitted_frequency,omitempty"`
	EffectiveFrequency float64    `json:"effective_frequency"`
	Ceiling            float64    `json:"ceiling"`
	Adaptive           bool       `json:"adaptive"`
	SourceType         string     `json:"source_type"`
	LastBuildAt        *time.Time `json:"last_build_at,omitempty"`
}

func newBuildConfigView(c model.BuildConfig) *buildConfigView {
	return &buildConfigView{
		InitialFrequency:   c.InitialFrequency,
		FittedFrequency:    c.FittedFrequency,
		EffectiveFrequency: c.EffectiveFrequency(),
		Ceiling:            c.Ceiling(),
		Adaptive:           c.Adaptive,
		SourceType:         string(c.SourceType),
		LastBuildAt:        c.LastBuildAt,
	}
}

type subscriptionDetail struct {
	subscriptionView
	BuildConfig *buildConfigView `json:"build_config,omitempty"`
}

type recordView struct {
	Identifier     string    `json:"identifier"`
	SubscriptionID int64     `json:"subscription_id"`
	Status         string    `json:"status"`
	Code           int       `json:"code"`
	Remark         string    `json:"remark,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func newRecordView(r model.BuildRecord) recordView {
	return recordView{
		Identifier:     r.Identifier,
		SubscriptionID: r.SubscriptionID,
		Status:         r.Status.String(),
		Code:           int(r.Status),
		Remark:         r.Remark,
		CreatedAt:      r.CreatedAt,
	}
}

type articleView struct {
	ID             int64          `json:"id"`
	SubscriptionID int64          `json:"subscription_id"`
	Title          string         `json:"title"`
	Link           string         `json:"link"`
	Description    string         `json:"description,omitempty"`
	PlainText      string         `json:"plain_text,omitempty"`
	Images         []model.Image  `json:"images"`
	Authors        []model.Author `json:"authors"`
	PublishedAt    time.Time      `json:"published_at"`
}

func newArticleView(a model.Article) articleView {
	v := articleView{
		ID:             a.ID,
		SubscriptionID: a.SubscriptionID,
		Title:          a.Title,
		Link:           a.Link,
		Description:    a.Description,
		PlainText:      a.PlainText,
		Images:         a.Images,
		Authors:        a.Authors,
		PublishedAt:    a.PublishedAt,
	}
	if v.Images == nil {
		v.Images = []model.Image{}
	}
	if v.Authors == nil {
		v.Authors = []model.Author{}
	}
	return v
}

// Package database provides storage backends for the crawler.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/bryan-buckman/infovore/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Category operations
	UpsertCategory(ctx context.Context, c *model.Category) (bool, error)
	ListCategories(ctx context.Context) ([]model.Category, error)

	// Subscription operations
	FindSubscription(ctx context.Context, id int64) (*model.Subscription, error)
	FindSubscriptionByLink(ctx context.Context, link string, categoryID *int64) (*model.Subscription, error)
	UpsertSubscription(ctx context.Context, s *model.Subscription) (bool, error)
	ListSubscriptions(ctx context.Context, f model.SubscriptionFilter, p model.PageRequest) (model.Page[model.Subscription], error)
	CountSubscriptions(ctx context.Context) (total, neverBuilt int, err error)
	// ListStaleSubscriptions orders by last_build_at ascending with nulls first.
	ListStaleSubscriptions(ctx context.Context, limit int) ([]model.Subscription, error)

	// Build config operations
	FindBuildConfig(ctx context.Context, subscriptionID int64) (*model.BuildConfig, error)
	FindBuildConfigs(ctx context.Context, subscriptionIDs []int64) (map[int64]model.BuildConfig, error)
	UpsertBuildConfig(ctx context.Context, c model.BuildConfig) error

	// Build record operations
	AppendBuildRecord(ctx context.Context, r model.BuildRecord) (model.BuildRecord, error)
	QueryBuildRecords(ctx context.Context, q model.BuildRecordQuery) (model.Page[model.BuildRecord], error)

	// Article operations
	UpsertArticle(ctx context.Context, a *model.Article) (bool, error)
	FindArticle(ctx context.Context, id int64) (*model.Article, error)
	ListArticles(ctx context.Context, f model.ArticleFilter, p model.PageRequest) (model.Page[model.Article], error)
	DeleteArticlesOlderThan(ctx context.Context, t time.Time) (int64, error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Open picks a backend by driver name ("sqlite" or "postgres").
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return New(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	default:
		return nil, errors.New("unknown database driver: " + driver)
	}
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bryan-buckman/infovore/internal/model"
	"github.com/google/uuid"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with '?' placeholders and rebound per dialect.
// Timestamps are stored as unix milliseconds so both backends compare and
// order them the same way.
type sqlStore struct {
	conn     *sql.DB
	numbered bool // PostgreSQL-style $1 placeholders
}

func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.conn.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.conn.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.conn.QueryRowContext(ctx, s.rebind(query), args...)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.conn.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func fromNullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

// inClause renders "col IN (?, ?, ...)" and appends the values to args.
func inClause[T any](col string, values []T, args []any) (string, []any) {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		args = append(args, v)
	}
	return col + " IN (" + strings.Join(marks, ", ") + ")", args
}

func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// --- Category Methods ---

// UpsertCategory inserts or updates a category keyed by ID, or by title and
// parent when ID is zero. Reports whether an existing row was updated.
func (s *sqlStore) UpsertCategory(ctx context.Context, c *model.Category) (bool, error) {
	var id int64
	var err error
	switch {
	case c.ID != 0:
		err = s.queryRow(ctx, "SELECT id FROM categories WHERE id = ?", c.ID).Scan(&id)
	case c.ParentID == nil:
		err = s.queryRow(ctx, "SELECT id FROM categories WHERE title = ? AND parent_id IS NULL", c.Title).Scan(&id)
	default:
		err = s.queryRow(ctx, "SELECT id FROM categories WHERE title = ? AND parent_id = ?", c.Title, *c.ParentID).Scan(&id)
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if err == nil {
		_, err = s.exec(ctx, "UPDATE categories SET title = ?, description = ?, parent_id = ?, sort_order = ? WHERE id = ?",
			c.Title, c.Description, nullInt64(c.ParentID), c.SortOrder, id)
		c.ID = id
		return true, err
	}
	err = s.queryRow(ctx, "INSERT INTO categories (title, description, parent_id, sort_order) VALUES (?, ?, ?, ?) RETURNING id",
		c.Title, c.Description, nullInt64(c.ParentID), c.SortOrder).Scan(&c.ID)
	return false, err
}

// ListCategories returns all categories ordered by sort order then title.
func (s *sqlStore) ListCategories(ctx context.Context) ([]model.Category, error) {
	rows, err := s.query(ctx, "SELECT id, title, description, parent_id, sort_order FROM categories ORDER BY sort_order, title")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []model.Category
	for rows.Next() {
		var c model.Category
		var parent sql.NullInt64
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &parent, &c.SortOrder); err != nil {
			return nil, err
		}
		c.ParentID = fromNullInt64(parent)
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// --- Subscription Methods ---

const subscriptionColumns = "id, title, description, link, site_link, language, logo, category_id, sort_order, pub_date, last_build_at"

func scanSubscription(row scanner) (model.Subscription, error) {
	var sub model.Subscription
	var category, pubDate, lastBuild sql.NullInt64
	err := row.Scan(&sub.ID, &sub.Title, &sub.Description, &sub.Link, &sub.SiteLink, &sub.Language,
		&sub.Logo, &category, &sub.SortOrder, &pubDate, &lastBuild)
	if err != nil {
		return sub, err
	}
	sub.CategoryID = fromNullInt64(category)
	sub.PubDate = fromNullMillis(pubDate)
	sub.LastBuildAt = fromNullMillis(lastBuild)
	return sub, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// FindSubscription returns the subscription with the given ID.
func (s *sqlStore) FindSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := scanSubscription(s.queryRow(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindSubscriptionByLink returns the subscription for a feed URL within a category.
// A nil category matches uncategorized subscriptions only.
func (s *sqlStore) FindSubscriptionByLink(ctx context.Context, link string, categoryID *int64) (*model.Subscription, error) {
	var row *sql.Row
	if categoryID == nil {
		row = s.queryRow(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE link = ? AND category_id IS NULL ORDER BY id LIMIT 1", link)
	} else {
		row = s.queryRow(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions WHERE link = ? AND category_id = ? ORDER BY id LIMIT 1", link, *categoryID)
	}
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpsertSubscription writes a subscription keyed by ID, or by link and
// category when ID is zero. Reports whether an existing row was updated.
func (s *sqlStore) UpsertSubscription(ctx context.Context, sub *model.Subscription) (bool, error) {
	var existing *model.Subscription
	var err error
	if sub.ID != 0 {
		existing, err = s.FindSubscription(ctx, sub.ID)
	} else {
		existing, err = s.FindSubscriptionByLink(ctx, sub.Link, sub.CategoryID)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if existing != nil {
		_, err = s.exec(ctx, `UPDATE subscriptions SET title = ?, description = ?, link = ?, site_link = ?, language = ?,
			logo = ?, category_id = ?, sort_order = ?, pub_date = ?, last_build_at = ? WHERE id = ?`,
			sub.Title, sub.Description, sub.Link, sub.SiteLink, sub.Language, sub.Logo,
			nullInt64(sub.CategoryID), sub.SortOrder, nullMillis(sub.PubDate), nullMillis(sub.LastBuildAt), existing.ID)
		sub.ID = existing.ID
		return true, err
	}
	err = s.queryRow(ctx, `INSERT INTO subscriptions (title, description, link, site_link, language, logo, category_id,
		sort_order, pub_date, last_build_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		sub.Title, sub.Description, sub.Link, sub.SiteLink, sub.Language, sub.Logo,
		nullInt64(sub.CategoryID), sub.SortOrder, nullMillis(sub.PubDate), nullMillis(sub.LastBuildAt)).Scan(&sub.ID)
	return false, err
}

// ListSubscriptions returns one page of subscriptions matching the filter.
func (s *sqlStore) ListSubscriptions(ctx context.Context, f model.SubscriptionFilter, p model.PageRequest) (model.Page[model.Subscription], error) {
	p = p.Normalize()
	var clauses []string
	var args []any
	if len(f.IDs) > 0 {
		var clause string
		clause, args = inClause("id", f.IDs, args)
		clauses = append(clauses, clause)
	}
	if f.CategoryID != nil {
		clauses = append(clauses, "category_id = ?")
		args = append(args, *f.CategoryID)
	}
	if f.Keyword != "" {
		clauses = append(clauses, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Keyword)+"%")
	}
	cond := where(clauses)

	var total int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM subscriptions"+cond, args...).Scan(&total); err != nil {
		return model.Page[model.Subscription]{}, err
	}
	rows, err := s.query(ctx, "SELECT "+subscriptionColumns+" FROM subscriptions"+cond+" ORDER BY sort_order, id LIMIT ? OFFSET ?",
		append(args, p.PageSize, p.Offset())...)
	if err != nil {
		return model.Page[model.Subscription]{}, err
	}
	defer rows.Close()
	subs, err := scanSubscriptions(rows)
	if err != nil {
		return model.Page[model.Subscription]{}, err
	}
	return model.NewPage(subs, total, p), nil
}

// CountSubscriptions returns the total number of subscriptions and how many
// have never been built.
func (s *sqlStore) CountSubscriptions(ctx context.Context) (int, int, error) {
	var total, built int
	err := s.queryRow(ctx, "SELECT COUNT(*), COUNT(last_build_at) FROM subscriptions").Scan(&total, &built)
	if err != nil {
		return 0, 0, err
	}
	return total, total - built, nil
}

// ListStaleSubscriptions returns up to limit subscriptions, least recently
// built first. Never-built subscriptions sort before all others.
func (s *sqlStore) ListStaleSubscriptions(ctx context.Context, limit int) ([]model.Subscription, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.query(ctx, "SELECT "+subscriptionColumns+` FROM subscriptions
		ORDER BY CASE WHEN last_build_at IS NULL THEN 0 ELSE 1 END, last_build_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// --- Build Config Methods ---

const buildConfigColumns = "subscription_id, initial_frequency, fitted_frequency, adaptive, source_type, last_build_at"

func scanBuildConfig(row scanner) (model.BuildConfig, error) {
	var c model.BuildConfig
	var fitted sql.NullFloat64
	var sourceType string
	var lastBuild sql.NullInt64
	if err := row.Scan(&c.SubscriptionID, &c.InitialFrequency, &fitted, &c.Adaptive, &sourceType, &lastBuild); err != nil {
		return c, err
	}
	if fitted.Valid {
		v := fitted.Float64
		c.FittedFrequency = &v
	}
	c.SourceType = model.SourceType(sourceType)
	c.LastBuildAt = fromNullMillis(lastBuild)
	return c, nil
}

// FindBuildConfig returns the build config of one subscription.
func (s *sqlStore) FindBuildConfig(ctx context.Context, subscriptionID int64) (*model.BuildConfig, error) {
	c, err := scanBuildConfig(s.queryRow(ctx, "SELECT "+buildConfigColumns+" FROM build_configs WHERE subscription_id = ?", subscriptionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindBuildConfigs returns the build configs of the given subscriptions keyed
// by subscription ID. Subscriptions without a config are absent.
func (s *sqlStore) FindBuildConfigs(ctx context.Context, subscriptionIDs []int64) (map[int64]model.BuildConfig, error) {
	configs := make(map[int64]model.BuildConfig, len(subscriptionIDs))
	if len(subscriptionIDs) == 0 {
		return configs, nil
	}
	clause, args := inClause("subscription_id", subscriptionIDs, nil)
	rows, err := s.query(ctx, "SELECT "+buildConfigColumns+" FROM build_configs WHERE "+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanBuildConfig(rows)
		if err != nil {
			return nil, err
		}
		configs[c.SubscriptionID] = c
	}
	return configs, rows.Err()
}

// UpsertBuildConfig writes the build config of a subscription.
func (s *sqlStore) UpsertBuildConfig(ctx context.Context, c model.BuildConfig) error {
	var fitted sql.NullFloat64
	if c.FittedFrequency != nil {
		fitted = sql.NullFloat64{Float64: *c.FittedFrequency, Valid: true}
	}
	sourceType := c.SourceType
	if sourceType == "" {
		sourceType = model.SourceUnknown
	}
	_, err := s.exec(ctx, `INSERT INTO build_configs (subscription_id, initial_frequency, fitted_frequency, adaptive, source_type, last_build_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subscription_id) DO UPDATE SET
			initial_frequency = excluded.initial_frequency,
			fitted_frequency = excluded.fitted_frequency,
			adaptive = excluded.adaptive,
			source_type = excluded.source_type,
			last_build_at = excluded.last_build_at`,
		c.SubscriptionID, c.InitialFrequency, fitted, c.Adaptive, string(sourceType), nullMillis(c.LastBuildAt))
	return err
}

// --- Build Record Methods ---

// AppendBuildRecord stores a new build record. A missing identifier or
// timestamp is filled in.
func (s *sqlStore) AppendBuildRecord(ctx context.Context, r model.BuildRecord) (model.BuildRecord, error) {
	if r.Identifier == "" {
		r.Identifier = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx, "INSERT INTO build_records (identifier, subscription_id, status, remark, created_at) VALUES (?, ?, ?, ?, ?)",
		r.Identifier, r.SubscriptionID, int(r.Status), r.Remark, toMillis(r.CreatedAt))
	if err != nil {
		return model.BuildRecord{}, fmt.Errorf("append build record: %w", err)
	}
	return r, nil
}

// QueryBuildRecords returns one page of build records, newest first.
func (s *sqlStore) QueryBuildRecords(ctx context.Context, q model.BuildRecordQuery) (model.Page[model.BuildRecord], error) {
	p := q.Page.Normalize()
	var clauses []string
	var args []any
	if len(q.SubscriptionIDs) > 0 {
		var clause string
		clause, args = inClause("subscription_id", q.SubscriptionIDs, args)
		clauses = append(clauses, clause)
	}
	if len(q.Statuses) > 0 {
		statuses := make([]int, len(q.Statuses))
		for i, st := range q.Statuses {
			statuses[i] = int(st)
		}
		var clause string
		clause, args = inClause("status", statuses, args)
		clauses = append(clauses, clause)
	}
	if q.CreatedAfter != nil {
		clauses = append(clauses, "created_at > ?")
		args = append(args, toMillis(*q.CreatedAfter))
	}
	if q.CreatedBefore != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, toMillis(*q.CreatedBefore))
	}
	cond := where(clauses)

	var total int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM build_records"+cond, args...).Scan(&total); err != nil {
		return model.Page[model.BuildRecord]{}, err
	}
	rows, err := s.query(ctx, "SELECT identifier, subscription_id, status, remark, created_at FROM build_records"+cond+
		" ORDER BY created_at DESC, identifier LIMIT ? OFFSET ?", append(args, p.PageSize, p.Offset())...)
	if err != nil {
		return model.Page[model.BuildRecord]{}, err
	}
	defer rows.Close()
	var records []model.BuildRecord
	for rows.Next() {
		var r model.BuildRecord
		var status int
		var created int64
		if err := rows.Scan(&r.Identifier, &r.SubscriptionID, &status, &r.Remark, &created); err != nil {
			return model.Page[model.BuildRecord]{}, err
		}
		r.Status = model.BuildStatus(status)
		r.CreatedAt = fromMillis(created)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.BuildRecord]{}, err
	}
	return model.NewPage(records, total, p), nil
}

// --- Article Methods ---

const articleColumns = "id, subscription_id, title, link, description, plain_text, images, authors, published_at, created_at, updated_at"

func scanArticle(row scanner) (model.Article, error) {
	var a model.Article
	var images, authors string
	var published, created, updated int64
	err := row.Scan(&a.ID, &a.SubscriptionID, &a.Title, &a.Link, &a.Description, &a.PlainText,
		&images, &authors, &published, &created, &updated)
	if err != nil {
		return a, err
	}
	if images != "" {
		if err := json.Unmarshal([]byte(images), &a.Images); err != nil {
			return a, fmt.Errorf("decode images of article %d: %w", a.ID, err)
		}
	}
	if authors != "" {
		if err := json.Unmarshal([]byte(authors), &a.Authors); err != nil {
			return a, fmt.Errorf("decode authors of article %d: %w", a.ID, err)
		}
	}
	a.PublishedAt = fromMillis(published)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

func encodeList[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	return string(b), err
}

// UpsertArticle writes an article keyed by ID, or by subscription and link
// when ID is zero. Reports whether an existing row was updated.
func (s *sqlStore) UpsertArticle(ctx context.Context, a *model.Article) (bool, error) {
	images, err := encodeList(a.Images)
	if err != nil {
		return false, fmt.Errorf("encode images: %w", err)
	}
	authors, err := encodeList(a.Authors)
	if err != nil {
		return false, fmt.Errorf("encode authors: %w", err)
	}

	var row *sql.Row
	if a.ID != 0 {
		row = s.queryRow(ctx, "SELECT id, created_at FROM articles WHERE id = ?", a.ID)
	} else {
		row = s.queryRow(ctx, "SELECT id, created_at FROM articles WHERE subscription_id = ? AND link = ?", a.SubscriptionID, a.Link)
	}
	var id, created int64
	err = row.Scan(&id, &created)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}

	now := time.Now().UTC()
	a.UpdatedAt = now
	if err == nil {
		_, err = s.exec(ctx, `UPDATE articles SET subscription_id = ?, title = ?, link = ?, description = ?, plain_text = ?,
			images = ?, authors = ?, published_at = ?, updated_at = ? WHERE id = ?`,
			a.SubscriptionID, a.Title, a.Link, a.Description, a.PlainText, images, authors,
			toMillis(a.PublishedAt), toMillis(now), id)
		a.ID = id
		a.CreatedAt = fromMillis(created)
		return true, err
	}

	a.CreatedAt = now
	err = s.queryRow(ctx, `INSERT INTO articles (subscription_id, title, link, description, plain_text, images, authors,
		published_at, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		a.SubscriptionID, a.Title, a.Link, a.Description, a.PlainText, images, authors,
		toMillis(a.PublishedAt), toMillis(now), toMillis(now)).Scan(&a.ID)
	return false, err
}

// FindArticle returns the article with the given ID.
func (s *sqlStore) FindArticle(ctx context.Context, id int64) (*model.Article, error) {
	a, err := scanArticle(s.queryRow(ctx, "SELECT "+articleColumns+" FROM articles WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListArticles returns one page of articles, most recently published first.
func (s *sqlStore) ListArticles(ctx context.Context, f model.ArticleFilter, p model.PageRequest) (model.Page[model.Article], error) {
	p = p.Normalize()
	var clauses []string
	var args []any
	if len(f.SubscriptionIDs) > 0 {
		var clause string
		clause, args = inClause("subscription_id", f.SubscriptionIDs, args)
		clauses = append(clauses, clause)
	}
	if f.Since != nil {
		clauses = append(clauses, "published_at >= ?")
		args = append(args, toMillis(*f.Since))
	}
	if f.Until != nil {
		clauses = append(clauses, "published_at < ?")
		args = append(args, toMillis(*f.Until))
	}
	cond := where(clauses)

	var total int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM articles"+cond, args...).Scan(&total); err != nil {
		return model.Page[model.Article]{}, err
	}
	rows, err := s.query(ctx, "SELECT "+articleColumns+" FROM articles"+cond+" ORDER BY published_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, p.PageSize, p.Offset())...)
	if err != nil {
		return model.Page[model.Article]{}, err
	}
	defer rows.Close()
	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return model.Page[model.Article]{}, err
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return model.Page[model.Article]{}, err
	}
	return model.NewPage(articles, total, p), nil
}

// DeleteArticlesOlderThan removes articles published before t.
func (s *sqlStore) DeleteArticlesOlderThan(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM articles WHERE published_at < ?", toMillis(t))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (s *sqlStore) GetSetting(ctx context.Context, key string) (string, error) {
	var val string
	err := s.queryRow(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return val, err
}

// SetSetting saves a setting.
func (s *sqlStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.exec(ctx, "INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", key, value)
	return err
}

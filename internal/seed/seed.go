// Package seed loads subscriptions from OPML files and JSON fixture
// directories, and flattens stored subscriptions back into OPML entries.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bryan-buckman/infovore/internal/database"
	"github.com/bryan-buckman/infovore/internal/model"
	"github.com/bryan-buckman/infovore/internal/opml"
)

// Store is the storage the importer needs. database.Store satisfies it.
type Store interface {
	UpsertCategory(ctx context.Context, c *model.Category) (bool, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	FindSubscriptionByLink(ctx context.Context, link string, categoryID *int64) (*model.Subscription, error)
	UpsertSubscription(ctx context.Context, s *model.Subscription) (bool, error)
	ListSubscriptions(ctx context.Context, f model.SubscriptionFilter, p model.PageRequest) (model.Page[model.Subscription], error)
}

// Result counts what an import did.
type Result struct {
	Categories int `json:"categories"`
	Imported   int `json:"imported"`
	Existing   int `json:"existing"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Importer writes categories and subscriptions.
type Importer struct {
	store  Store
	logger *slog.Logger
}

// NewImporter creates an importer.
func NewImporter(store Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: store, logger: logger.With("component", "seed")}
}

// ImportOPML creates one category per folder level and one subscription per
// feed. Feeds already subscribed in the same category are left untouched.
func (im *Importer) ImportOPML(ctx context.Context, r io.Reader) (Result, error) {
	entries, err := opml.Parse(r)
	if err != nil {
		return Result{}, err
	}
	var res Result
	res.Total = len(entries)
	folders := make(map[string]int64)
	for _, entry := range entries {
		var categoryID *int64
		for i, name := range entry.FolderPath {
			key := strings.Join(entry.FolderPath[:i+1], "/")
			if id, ok := folders[key]; ok {
				categoryID = &id
				continue
			}
			cat := model.Category{Title: name, ParentID: categoryID}
			if _, err := im.store.UpsertCategory(ctx, &cat); err != nil {
				im.logger.Error("failed to create category", "title", name, "error", err)
				categoryID = nil
				break
			}
			res.Categories++
			folders[key] = cat.ID
			categoryID = &cat.ID
		}

		im.addSubscription(ctx, model.Subscription{
			Title:       entry.Title,
			Link:        entry.URL,
			SiteLink:    entry.SiteURL,
			Description: entry.Description,
			Language:    entry.Language,
			CategoryID:  categoryID,
		}, &res)
	}
	im.logger.Info("imported opml", "imported", res.Imported, "existing", res.Existing,
		"failed", res.Failed, "total", res.Total)
	return res, nil
}

func (im *Importer) addSubscription(ctx context.Context, sub model.Subscription, res *Result) {
	if sub.Link == "" {
		res.Failed++
		return
	}
	_, err := im.store.FindSubscriptionByLink(ctx, sub.Link, sub.CategoryID)
	switch {
	case err == nil:
		res.Existing++
		return
	case !errors.Is(err, database.ErrNotFound):
		res.Failed++
		im.logger.Error("failed to look up subscription", "link", sub.Link, "error", err)
		return
	}
	if _, err := im.store.UpsertSubscription(ctx, &sub); err != nil {
		res.Failed++
		im.logger.Error("failed to create subscription", "link", sub.Link, "error", err)
		return
	}
	res.Imported++
}

// fixtureCategory is one categories/*.json document.
type fixtureCategory struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	SortOrder   int               `json:"sortOrder"`
	Children    []fixtureCategory `json:"children"`
}

// fixtureFeed is one element of a feeds/*.json array.
type fixtureFeed struct {
	Title       string `json:"title"`
	FeedURL     string `json:"feedUrl"`
	CategoryID  int64  `json:"categoryId"`
	Logo        string `json:"logo"`
	IconURL     string `json:"iconUrl"`
	Language    string `json:"language"`
	Description string `json:"description"`
	Website     string `json:"website"`
	SortOrder   int    `json:"sortOrder"`
}

// ImportFixtures loads dir/categories/*.json and then dir/feeds/*.json.
// Feed categoryId values refer to the ids used in the category fixtures.
// Unreadable or malformed files are logged and skipped.
func (im *Importer) ImportFixtures(ctx context.Context, dir string) (Result, error) {
	var res Result
	ids := make(map[int64]int64)

	catFiles, err := jsonFiles(filepath.Join(dir, "categories"))
	if err != nil {
		return res, err
	}
	for _, path := range catFiles {
		var root fixtureCategory
		if err := readJSON(path, &root); err != nil {
			im.logger.Error("skipping category fixture", "path", path, "error", err)
			continue
		}
		rootID, ok := im.fixtureCategory(ctx, root, nil, ids, &res)
		if !ok {
			continue
		}
		for _, child := range root.Children {
			if child.Description == "" {
				child.Description = root.Name + " -" + child.Name
			}
			im.fixtureCategory(ctx, child, &rootID, ids, &res)
		}
	}

	feedFiles, err := jsonFiles(filepath.Join(dir, "feeds"))
	if err != nil {
		return res, err
	}
	for _, path := range feedFiles {
		var feeds []fixtureFeed
		if err := readJSON(path, &feeds); err != nil {
			im.logger.Error("skipping feed fixture", "path", path, "error", err)
			continue
		}
		res.Total += len(feeds)
		for _, f := range feeds {
			sub := model.Subscription{
				Title:       f.Title,
				Link:        f.FeedURL,
				SiteLink:    f.Website,
				Description: f.Description,
				Language:    f.Language,
				Logo:        f.Logo,
				SortOrder:   f.SortOrder,
			}
			if sub.Logo == "" {
				sub.Logo = f.IconURL
			}
			if id, ok := ids[f.CategoryID]; ok {
				sub.CategoryID = &id
			}
			im.addSubscription(ctx, sub, &res)
		}
	}
	im.logger.Info("imported fixtures", "dir", dir, "categories", res.Categories,
		"imported", res.Imported, "existing", res.Existing, "failed", res.Failed)
	return res, nil
}

func (im *Importer) fixtureCategory(ctx context.Context, fc fixtureCategory, parent *int64, ids map[int64]int64, res *Result) (int64, bool) {
	cat := model.Category{Title: fc.Name, Description: fc.Description, SortOrder: fc.SortOrder, ParentID: parent}
	if _, err := im.store.UpsertCategory(ctx, &cat); err != nil {
		im.logger.Error("failed to create category", "title", fc.Name, "error", err)
		return 0, false
	}
	res.Categories++
	if fc.ID != 0 {
		ids[fc.ID] = cat.ID
	}
	return cat.ID, true
}

// jsonFiles lists *.json in dir, sorted. A missing dir has none.
func jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fixture dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Entries flattens every stored subscription into OPML entries, with each
// subscription's category chain as its folder path.
func Entries(ctx context.Context, store Store) ([]opml.FeedEntry, error) {
	categories, err := store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	byID := make(map[int64]model.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}
	pathOf := func(id *int64) []string {
		var path []string
		seen := make(map[int64]bool)
		for id != nil && !seen[*id] {
			seen[*id] = true
			c, ok := byID[*id]
			if !ok {
				break
			}
			path = append([]string{c.Title}, path...)
			id = c.ParentID
		}
		return path
	}

	var entries []opml.FeedEntry
	req := model.PageRequest{Page: 1, PageSize: model.MaxPageSize}
	for {
		page, err := store.ListSubscriptions(ctx, model.SubscriptionFilter{}, req)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		for _, s := range page.Items {
			entries = append(entries, opml.FeedEntry{
				FolderPath:  pathOf(s.CategoryID),
				Title:       s.Title,
				URL:         s.Link,
				SiteURL:     s.SiteLink,
				Description: s.Description,
				Language:    s.Language,
			})
		}
		if !page.HasNext() {
			return entries, nil
		}
		req.Page++
	}
}

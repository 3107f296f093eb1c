package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryan-buckman/infovore/internal/database"
	"github.com/bryan-buckman/infovore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const opmlDoc = `<?xml version="1.0"?>
<opml version="2.0"><body>
  <outline text="Tech">
    <outline text="Go" xmlUrl="https://go.dev/blog/feed.atom"/>
    <outline text="Google">
      <outline text="Research" xmlUrl="https://research.google/feed"/>
    </outline>
  </outline>
  <outline text="Loose" xmlUrl="https://loose.example/feed"/>
</body></opml>`

func TestImportOPML(t *testing.T) {
	ctx := context.Background()
	db := newStore(t)
	im := NewImporter(db, nil)

	res, err := im.ImportOPML(ctx, strings.NewReader(opmlDoc))
	require.NoError(t, err)
	assert.Equal(t, Result{Categories: 2, Imported: 3, Total: 3}, res)

	cats, err := db.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	byTitle := map[string]model.Category{}
	for _, c := range cats {
		byTitle[c.Title] = c
	}
	google := byTitle["Google"]
	require.NotNil(t, google.ParentID)
	assert.Equal(t, byTitle["Tech"].ID, *google.ParentID)

	sub, err := db.FindSubscriptionByLink(ctx, "https://research.google/feed", &google.ID)
	require.NoError(t, err)
	assert.Equal(t, "Research", sub.Title)

	// Importing again changes nothing.
	res, err = im.ImportOPML(ctx, strings.NewReader(opmlDoc))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, 3, res.Existing)

	entries, err := Entries(ctx, db)
	require.NoError(t, err)
	paths := map[string][]string{}
	for _, e := range entries {
		paths[e.URL] = e.FolderPath
	}
	assert.Equal(t, []string{"Tech", "Google"}, paths["https://research.google/feed"])
	assert.Equal(t, []string{"Tech"}, paths["https://go.dev/blog/feed.atom"])
	assert.Empty(t, paths["https://loose.example/feed"])
}

func TestImportOPMLInvalid(t *testing.T) {
	_, err := NewImporter(newStore(t), nil).ImportOPML(context.Background(), strings.NewReader("not xml"))
	assert.Error(t, err)
}

func writeFixture(t *testing.T, dir, rel, body string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestImportFixtures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFixture(t, dir, "categories/news.json", `{
		"id": 1001, "name": "News", "sortOrder": 2,
		"children": [{"id": 1002, "name": "World", "description": ""}]
	}`)
	writeFixture(t, dir, "categories/broken.json", `{`)
	writeFixture(t, dir, "categories/readme.txt", `ignored`)
	writeFixture(t, dir, "feeds/news.json", `[
		{"title": "BBC News", "feedUrl": "http://feeds.bbci.co.uk/news/rss.xml", "categoryId": 1002,
		 "iconUrl": "https://icons.example/bbc.png", "language": "en", "website": "https://www.bbc.co.uk/news/"},
		{"title": "Logo wins", "feedUrl": "https://logo.example/feed", "categoryId": 1001,
		 "logo": "https://logo.example/logo.png", "iconUrl": "https://logo.example/icon.png"},
		{"title": "Nowhere", "feedUrl": "https://nowhere.example/feed", "categoryId": 42},
		{"title": "No link"}
	]`)

	db := newStore(t)
	res, err := NewImporter(db, nil).ImportFixtures(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, Result{Categories: 2, Imported: 3, Failed: 1, Total: 4}, res)

	cats, err := db.ListCategories(ctx)
	require.NoError(t, err)
	var world model.Category
	for _, c := range cats {
		if c.Title == "World" {
			world = c
		}
	}
	assert.Equal(t, "News -World", world.Description)

	bbc, err := db.FindSubscriptionByLink(ctx, "http://feeds.bbci.co.uk/news/rss.xml", &world.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://icons.example/bbc.png", bbc.Logo)
	assert.Equal(t, "https://www.bbc.co.uk/news/", bbc.SiteLink)
	assert.Equal(t, "en", bbc.Language)

	nowhere, err := db.FindSubscriptionByLink(ctx, "https://nowhere.example/feed", nil)
	require.NoError(t, err)
	assert.Nil(t, nowhere.CategoryID)

	page, err := db.ListSubscriptions(ctx, model.SubscriptionFilter{Keyword: "logo"}, model.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "https://logo.example/logo.png", page.Items[0].Logo)
}

func TestImportFixturesMissingDirs(t *testing.T) {
	res, err := NewImporter(newStore(t), nil).ImportFixtures(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, res)
}

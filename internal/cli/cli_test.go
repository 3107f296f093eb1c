package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryan-buckman/infovore/internal/config"
	"github.com/bryan-buckman/infovore/internal/crawler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestImportThenExport(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("INFOVORE_DB_DSN", filepath.Join(dir, "test.db"))
	t.Setenv("INFOVORE_LOG_LEVEL", "error")

	path := filepath.Join(dir, "subs.opml")
	require.NoError(t, os.WriteFile(path, []byte(`<opml version="2.0"><body>
		<outline text="Tech"><outline text="Go" xmlUrl="https://go.dev/blog/feed.atom"/></outline>
	</body></opml>`), 0o644))

	out := run(t, "import", path)
	assert.Contains(t, out, "imported 1 subscriptions")

	out = run(t, "import", path)
	assert.Contains(t, out, "imported 0 subscriptions (1 existing")

	out = run(t, "export")
	assert.Contains(t, out, `xmlUrl="https://go.dev/blog/feed.atom"`)
	assert.Contains(t, out, `text="Tech"`)
}

func TestUnknownConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"export", "--config", "missing.yaml"})
	assert.Error(t, cmd.Execute())
}

func TestCrawlerOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Crawler.Concurrency = 7
	cfg.Crawler.RetentionDays = 30

	opts := crawlerOptions(cfg)
	assert.Equal(t, 7, opts.Concurrency)
	assert.Equal(t, 30*24*time.Hour, opts.Retention)
	assert.Equal(t, 60.0, opts.Schedule.InitialFrequency)

	assert.Equal(t, crawler.PollerOptions{MinSleep: 10 * time.Minute, MaxSleep: 40 * time.Minute}, pollerOptions(cfg))
}

func TestFormatReport(t *testing.T) {
	got := formatReport(crawler.Report{Selected: 3, Succeeded: 2, Failed: 1, Inserted: 5, Duration: 1500 * time.Millisecond})
	assert.Equal(t, "selected 3, succeeded 2, failed 1, productive 0, new 5, updated 0, refitted 0 in 1.5s", got)
}

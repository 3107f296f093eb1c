// Package crawler runs refresh cycles: it selects due subscriptions,
// fetches and parses them concurrently, and stores the results through a
// single aggregator.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryan-buckman/infovore/internal/metrics"
	"github.com/bryan-buckman/infovore/internal/model"
	"github.com/bryan-buckman/infovore/internal/rss"
	"github.com/bryan-buckman/infovore/internal/schedule"
	"golang.org/x/sync/semaphore"
)

// Defaults for Options.
const (
	DefaultExpectedCycles = 3
	DefaultFetchRetries   = 3
	DefaultFetchTimeout   = 15 * time.Second
	DefaultRetention      = 180 * 24 * time.Hour

	// resultBuffer is the capacity of the producer to aggregator channel.
	resultBuffer = 2
	// productiveDivisor: a fetch is productive when more than 1/productiveDivisor
	// of its articles are new.
	productiveDivisor = 3
)

// Phase is the state of the crawler.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSelecting
	PhaseDispatching
	PhaseAggregating
	PhaseRefitting
	PhaseEnriching
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSelecting:
		return "selecting"
	case PhaseDispatching:
		return "dispatching"
	case PhaseAggregating:
		return "aggregating"
	case PhaseRefitting:
		return "refitting"
	case PhaseEnriching:
		return "enriching"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Store is the storage the crawler needs. database.Store satisfies it.
type Store interface {
	schedule.Store
	UpsertSubscription(ctx context.Context, s *model.Subscription) (bool, error)
	UpsertArticle(ctx context.Context, a *model.Article) (bool, error)
	FindArticle(ctx context.Context, id int64) (*model.Article, error)
	AppendBuildRecord(ctx context.Context, r model.BuildRecord) (model.BuildRecord, error)
	DeleteArticlesOlderThan(ctx context.Context, t time.Time) (int64, error)
	SetSetting(ctx context.Context, key, value string) error
}

// FeedFetcher retrieves a feed body; "" means nothing could be fetched.
type FeedFetcher interface {
	Fetch(ctx context.Context, req rss.Request) string
}

// Options configures a Crawler.
type Options struct {
	// Concurrency caps in-flight fetches. Defaults to NumCPU+2.
	Concurrency int
	// ExpectedCycles is how many runs should cover the built population.
	ExpectedCycles int
	FetchTimeout   time.Duration
	FetchRetries   int
	UserAgent      string
	Proxy          string
	// Retention is how long articles are kept by Cleanup.
	Retention time.Duration
	// Schedule tunes candidate selection and refitting.
	Schedule schedule.Options
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = runtime.NumCPU() + 2
	}
	if o.ExpectedCycles <= 0 {
		o.ExpectedCycles = DefaultExpectedCycles
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.FetchRetries <= 0 {
		o.FetchRetries = DefaultFetchRetries
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	return o
}

// Report summarizes one run.
type Report struct {
	Selected   int
	Succeeded  int
	Failed     int
	Productive int
	Inserted   int
	Updated    int
	Refitted   int
	// NewArticles are the articles first stored during this run.
	NewArticles []model.Article
	Started     time.Time
	Duration    time.Duration
}

// Crawler runs refresh cycles.
type Crawler struct {
	store     Store
	fetcher   FeedFetcher
	parser    *rss.Parser
	scheduler *schedule.Scheduler
	enricher  Enricher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	opts      Options
	now       func() time.Time

	phase   atomic.Int32
	running atomic.Bool
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithFetcher replaces the default fetcher.
func WithFetcher(f FeedFetcher) Option {
	return func(c *Crawler) { c.fetcher = f }
}

// WithEnricher sets the link-metadata service used by Enrich.
func WithEnricher(e Enricher) Option {
	return func(c *Crawler) { c.enricher = e }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Crawler) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) { c.now = now }
}

// New creates a crawler.
func New(store Store, opts Options, options ...Option) *Crawler {
	c := &Crawler{
		store:  store,
		parser: rss.NewParser(),
		logger: slog.Default(),
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.With("component", "crawler")
	if c.fetcher == nil {
		c.fetcher = rss.NewFetcher(
			rss.WithLogger(c.logger),
			rss.WithAttemptObserver(func(_ string, err error) { c.metrics.RecordFetch(err) }),
		)
	}
	c.scheduler = schedule.New(store, c.opts.Schedule, c.logger)
	return c
}

// Phase returns the current phase.
func (c *Crawler) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Crawler) setPhase(p Phase) {
	c.phase.Store(int32(p))
	c.metrics.SetPhase(int(p))
}

// Scheduler exposes the scheduler used for selection and refitting.
func (c *Crawler) Scheduler() *schedule.Scheduler {
	return c.scheduler
}

// Run performs one refresh cycle over the due subscriptions.
func (c *Crawler) Run(ctx context.Context) (Report, error) {
	if !c.acquire() {
		return Report{}, ErrRunInProgress
	}
	defer c.release()
	return c.run(ctx)
}

// Refresh performs one cycle over the given subscriptions, skipping selection.
func (c *Crawler) Refresh(ctx context.Context, subs []model.Subscription) (Report, error) {
	if !c.acquire() {
		return Report{}, ErrRunInProgress
	}
	defer c.release()
	return c.crawl(ctx, subs, c.now()), nil
}

// acquire claims the crawler for one writer. Runs, enrichment and cleanup
// all write storage and must not overlap.
func (c *Crawler) acquire() bool {
	return c.running.CompareAndSwap(false, true)
}

func (c *Crawler) release() {
	c.setPhase(PhaseIdle)
	c.running.Store(false)
}

func (c *Crawler) run(ctx context.Context) (Report, error) {
	started := c.now()
	c.setPhase(PhaseSelecting)
	subs, err := c.scheduler.SelectCandidates(ctx, c.opts.ExpectedCycles, started)
	if err != nil {
		return Report{}, fmt.Errorf("select candidates: %w", err)
	}
	return c.crawl(ctx, subs, started), nil
}

type fetchResult struct {
	sub  model.Subscription
	feed *rss.Feed
	err  error
}

func (c *Crawler) crawl(ctx context.Context, subs []model.Subscription, started time.Time) Report {
	report := Report{Selected: len(subs), Started: started}
	if len(subs) == 0 {
		c.logger.Info("nothing to refresh")
		report.Duration = c.now().Sub(started)
		return report
	}

	c.setPhase(PhaseDispatching)
	results := make(chan fetchResult, resultBuffer)
	sem := semaphore.NewWeighted(int64(c.opts.Concurrency))
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub model.Subscription) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results <- fetchResult{sub: sub, err: err}
				return
			}
			defer sem.Release(1)
			feed, err := c.fetchFeed(ctx, sub)
			results <- fetchResult{sub: sub, feed: feed, err: err}
		}(sub)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	c.setPhase(PhaseAggregating)
	sourceTypes := make(map[int64]model.SourceType, len(subs))
	for r := range results {
		c.aggregate(ctx, r, &report, sourceTypes)
	}

	c.setPhase(PhaseRefitting)
	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	refitted, err := c.scheduler.Refit(ctx, ids, sourceTypes, c.now())
	if err != nil {
		c.logger.Error("refit failed", "error", err, "kind", FailureStorage)
		c.metrics.RecordFailure(string(FailureStorage))
	}
	report.Refitted = refitted

	report.Duration = c.now().Sub(started)
	c.metrics.RecordRun(report.Duration)
	c.logger.Info("crawl finished",
		"selected", report.Selected,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"productive", report.Productive,
		"inserted", report.Inserted,
		"updated", report.Updated,
		"refitted", report.Refitted,
		"duration", report.Duration)
	return report
}

// fetchFeed runs in a producer goroutine and must not touch storage.
func (c *Crawler) fetchFeed(ctx context.Context, sub model.Subscription) (*rss.Feed, error) {
	body := c.fetcher.Fetch(ctx, rss.Request{
		URL:        sub.Link,
		Timeout:    c.opts.FetchTimeout,
		MaxRetries: c.opts.FetchRetries,
		UserAgent:  c.opts.UserAgent,
		Proxy:      c.opts.Proxy,
	})
	if body == "" {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", sub.Link, err)
		}
		return nil, fmt.Errorf("fetch %s: %w", sub.Link, rss.ErrNoContent)
	}
	feed, err := c.parser.Parse([]byte(body), c.now())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", sub.Link, err)
	}
	return feed, nil
}

// aggregate applies one result. It runs only on the Run goroutine.
func (c *Crawler) aggregate(ctx context.Context, r fetchResult, report *Report, sourceTypes map[int64]model.SourceType) {
	log := c.logger.With("subscription_id", r.sub.ID, "link", r.sub.Link)
	if r.err != nil {
		report.Failed++
		kind := Classify(r.err)
		c.metrics.RecordFailure(string(kind))
		c.metrics.RecordSubscription("failed")
		log.Warn("refresh failed", "kind", kind, "error", r.err)
		c.appendRecord(ctx, r.sub.ID, model.StatusFailed, r.err.Error())
		return
	}
	report.Succeeded++
	sourceTypes[r.sub.ID] = r.feed.SourceType

	sub := mergeSubscription(r.sub, r.feed)
	if _, err := c.store.UpsertSubscription(ctx, &sub); err != nil {
		c.storageFailure(log, "upsert subscription", err)
	}

	inserted, updated := 0, 0
	for _, item := range r.feed.Items {
		article := item.Article(sub.ID)
		wasUpdate, err := c.store.UpsertArticle(ctx, &article)
		if err != nil {
			c.storageFailure(log.With("article", article.Link), "upsert article", err)
			continue
		}
		if wasUpdate {
			updated++
			continue
		}
		inserted++
		report.NewArticles = append(report.NewArticles, article)
	}
	report.Inserted += inserted
	report.Updated += updated
	c.metrics.RecordArticles(inserted, updated)

	total := len(r.feed.Items)
	if !Productive(inserted, total) {
		c.metrics.RecordSubscription("unproductive")
		log.Debug("refresh not productive", "inserted", inserted, "total", total)
		return
	}
	report.Productive++
	c.metrics.RecordSubscription("productive")
	c.appendRecord(ctx, sub.ID, model.StatusFullSuccess, fmt.Sprintf("%d of %d articles new", inserted, total))

	now := c.now()
	sub.LastBuildAt = &now
	if _, err := c.store.UpsertSubscription(ctx, &sub); err != nil {
		c.storageFailure(log, "advance last build", err)
	}
	log.Info("refresh productive", "inserted", inserted, "updated", updated, "total", total)
}

// Productive reports whether more than a third of the parsed articles were new.
func Productive(inserted, total int) bool {
	return inserted*productiveDivisor > total
}

func (c *Crawler) appendRecord(ctx context.Context, subID int64, status model.BuildStatus, remark string) {
	_, err := c.store.AppendBuildRecord(ctx, model.BuildRecord{
		SubscriptionID: subID,
		Status:         status,
		Remark:         remark,
		CreatedAt:      c.now(),
	})
	if err != nil {
		c.storageFailure(c.logger.With("subscription_id", subID), "append build record", err)
		return
	}
	c.metrics.RecordBuildRecord(status.String())
}

func (c *Crawler) storageFailure(log *slog.Logger, op string, err error) {
	err = fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
	c.metrics.RecordFailure(string(Classify(err)))
	log.Error("storage failure", "error", err)
}

// mergeSubscription refreshes a subscription from its parsed feed. The
// caller's category, logo and language win; the parsed language fills in
// only when none was set.
func mergeSubscription(sub model.Subscription, feed *rss.Feed) model.Subscription {
	if feed.Title != "" {
		sub.Title = feed.Title
	}
	if feed.Description != "" {
		sub.Description = feed.Description
	}
	if feed.SiteLink != "" {
		sub.SiteLink = feed.SiteLink
	}
	if sub.Language == "" {
		sub.Language = feed.Language
	}
	if sub.Logo == "" {
		sub.Logo = feed.Logo
	}
	if feed.PubDate != nil {
		sub.PubDate = feed.PubDate
	}
	return sub
}

// Cleanup removes articles older than the retention window and records
// when it ran.
func (c *Crawler) Cleanup(ctx context.Context) (int64, error) {
	if !c.acquire() {
		return 0, ErrRunInProgress
	}
	defer c.release()
	return c.cleanup(ctx)
}

func (c *Crawler) cleanup(ctx context.Context) (int64, error) {
	now := c.now()
	deleted, err := c.store.DeleteArticlesOlderThan(ctx, now.Add(-c.opts.Retention))
	if err != nil {
		return 0, fmt.Errorf("%w: delete expired articles: %w", ErrStorage, err)
	}
	if err := c.store.SetSetting(ctx, model.SettingLastCleanupAt, now.UTC().Format(time.RFC3339)); err != nil {
		c.logger.Warn("failed to record cleanup time", "error", err)
	}
	c.metrics.RecordCleanup(deleted)
	c.logger.Info("removed expired articles", "deleted", deleted, "retention", c.opts.Retention)
	return deleted, nil
}

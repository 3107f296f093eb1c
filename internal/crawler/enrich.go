package crawler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bryan-buckman/infovore/internal/content"
	"github.com/bryan-buckman/infovore/internal/enrich"
	"github.com/bryan-buckman/infovore/internal/model"
	"golang.org/x/sync/semaphore"
)

// Enricher is the link-metadata service. *enrich.Client satisfies it.
type Enricher interface {
	Ping(ctx context.Context) error
	Fetch(ctx context.Context, pageURL string) (enrich.Result, error)
}

// EnrichReport summarizes one enrichment pass.
type EnrichReport struct {
	Attempted int
	Enriched  int
	Failed    int
	Abandoned int
}

type enrichResult struct {
	article model.Article
	res     enrich.Result
	err     error
}

// Enrich asks the link-metadata service about articles that carry no image
// yet, oldest first. Work still in flight at deadline is abandoned;
// completed updates are kept. It returns ErrRunInProgress while a run,
// cleanup or another enrichment holds the crawler.
func (c *Crawler) Enrich(ctx context.Context, articles []model.Article, deadline time.Time) (EnrichReport, error) {
	if !c.acquire() {
		return EnrichReport{}, ErrRunInProgress
	}
	defer c.release()
	return c.enrich(ctx, articles, deadline)
}

func (c *Crawler) enrich(ctx context.Context, articles []model.Article, deadline time.Time) (EnrichReport, error) {
	var report EnrichReport
	if c.enricher == nil {
		return report, enrich.ErrNotConfigured
	}
	if err := c.enricher.Ping(ctx); err != nil {
		return report, fmt.Errorf("link metadata service unavailable: %w", err)
	}

	targets := enrichTargets(articles)
	if len(targets) == 0 {
		return report, nil
	}

	c.setPhase(PhaseEnriching)

	fetchCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	results := make(chan enrichResult, resultBuffer)
	sem := semaphore.NewWeighted(int64(c.opts.Concurrency))
	var wg sync.WaitGroup
	for _, a := range targets {
		wg.Add(1)
		go func(a model.Article) {
			defer wg.Done()
			if err := sem.Acquire(fetchCtx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			res, err := c.enricher.Fetch(fetchCtx, a.Link)
			select {
			case results <- enrichResult{article: a, res: res, err: err}:
			case <-fetchCtx.Done():
			}
		}(a)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	received := 0
loop:
	for {
		select {
		case r, ok := <-results:
			if !ok {
				break loop
			}
			received++
			c.applyEnrichment(ctx, r, &report)
		case <-fetchCtx.Done():
			break loop
		}
	}
	report.Attempted = len(targets)
	report.Abandoned = len(targets) - received
	if report.Abandoned > 0 {
		c.metrics.RecordEnrichment("abandoned")
		c.logger.Warn("enrichment deadline reached", "abandoned", report.Abandoned)
	}
	c.logger.Info("enrichment finished", "attempted", report.Attempted, "enriched", report.Enriched,
		"failed", report.Failed, "abandoned", report.Abandoned)
	return report, nil
}

// enrichTargets keeps linked articles without images, oldest first.
func enrichTargets(articles []model.Article) []model.Article {
	targets := make([]model.Article, 0, len(articles))
	for _, a := range articles {
		if len(a.Images) == 0 && a.Link != "" {
			targets = append(targets, a)
		}
	}
	slices.SortStableFunc(targets, func(a, b model.Article) int {
		return a.PublishedAt.Compare(b.PublishedAt)
	})
	return targets
}

// applyEnrichment runs on the Enrich goroutine only; it is the sole writer.
// The service result is merged into the stored row, not the snapshot taken
// when the article was first seen.
func (c *Crawler) applyEnrichment(ctx context.Context, r enrichResult, report *EnrichReport) {
	if r.err != nil {
		report.Failed++
		c.metrics.RecordEnrichment("failed")
		c.logger.Debug("enrichment failed", "link", r.article.Link, "error", r.err)
		return
	}
	current := r.article
	if current.ID != 0 {
		stored, err := c.store.FindArticle(ctx, current.ID)
		if err != nil {
			report.Failed++
			c.storageFailure(c.logger.With("article", current.Link), "reload article", err)
			return
		}
		current = *stored
	}
	a, changed := mergeEnrichment(current, r.res)
	if !changed {
		c.metrics.RecordEnrichment("empty")
		return
	}
	if _, err := c.store.UpsertArticle(ctx, &a); err != nil {
		report.Failed++
		c.storageFailure(c.logger.With("article", a.Link), "update enriched article", err)
		return
	}
	report.Enriched++
	c.metrics.RecordEnrichment("enriched")
}

// mergeEnrichment folds a service result into an article. The service body
// replaces the description only when the article had none. Without a lead
// image the body's metadata image and then its inline images are used.
func mergeEnrichment(a model.Article, res enrich.Result) (model.Article, bool) {
	changed := false
	if a.Description == "" && res.Content != "" {
		a.Description = res.Content
		a.PlainText = content.ExtractPlainText(res.Content)
		changed = true
	}

	var images []string
	switch {
	case res.LeadImageURL != "":
		images = []string{res.LeadImageURL}
	case res.Content != "":
		if img := content.ExtractMetadata(res.Content).Image; img != "" {
			images = []string{img}
		} else {
			images = content.ExtractImages(res.Content)
		}
	}
	if len(images) > 0 {
		a.Images = model.ImagesFromURLs(images)
		changed = true
	}
	return a, changed
}

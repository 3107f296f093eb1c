package crawler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bryan-buckman/infovore/internal/enrich"
)

// Poller defaults.
const (
	DefaultMinSleep = 10 * time.Minute
	DefaultMaxSleep = 40 * time.Minute
	// MinPause is the shortest pause between cycles.
	MinPause = 10 * time.Second
	// enrichGrace is kept free at the end of a cycle's interval.
	enrichGrace = 60 * time.Second
)

// PollerOptions configures a Poller.
type PollerOptions struct {
	MinSleep time.Duration
	MaxSleep time.Duration
}

// CycleReport summarizes one poller cycle.
type CycleReport struct {
	Deleted  int64
	Crawl    Report
	Enrich   EnrichReport
	Interval time.Duration
	Spent    time.Duration
}

// Poller runs continuous crawl cycles.
type Poller struct {
	crawler  *Crawler
	opts     PollerOptions
	logger   *slog.Logger
	interval func() time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a background poller.
func NewPoller(c *Crawler, opts PollerOptions) *Poller {
	if opts.MinSleep <= 0 {
		opts.MinSleep = DefaultMinSleep
	}
	if opts.MaxSleep < opts.MinSleep {
		opts.MaxSleep = max(DefaultMaxSleep, opts.MinSleep)
	}
	p := &Poller{
		crawler:  c,
		opts:     opts,
		logger:   c.logger.With("component", "poller"),
		stopChan: make(chan struct{}),
	}
	p.interval = p.randomInterval
	return p
}

func (p *Poller) randomInterval() time.Duration {
	span := p.opts.MaxSleep - p.opts.MinSleep
	if span <= 0 {
		return p.opts.MinSleep
	}
	return p.opts.MinSleep + rand.N(span+1)
}

// Pause is how long to wait after a cycle that took spent out of interval.
func Pause(interval, spent time.Duration) time.Duration {
	return max(interval-spent, MinPause)
}

// RunCycle performs cleanup, a crawl and enrichment once. The crawler is
// held for the whole cycle, so a refresh requested meanwhile gets
// ErrRunInProgress.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	start := p.crawler.now()
	cycle := CycleReport{Interval: p.interval()}
	if !p.crawler.acquire() {
		return cycle, ErrRunInProgress
	}
	defer p.crawler.release()

	deleted, err := p.crawler.cleanup(ctx)
	if err != nil {
		p.logger.Error("cleanup failed", "error", err)
	}
	cycle.Deleted = deleted

	report, err := p.crawler.run(ctx)
	cycle.Crawl = report
	if err != nil {
		cycle.Spent = p.crawler.now().Sub(start)
		return cycle, err
	}

	if budget := cycle.Interval - enrichGrace; budget > 0 && len(report.NewArticles) > 0 {
		er, err := p.crawler.enrich(ctx, report.NewArticles, p.crawler.now().Add(budget))
		cycle.Enrich = er
		switch {
		case errors.Is(err, enrich.ErrNotConfigured):
			p.logger.Debug("enrichment skipped", "reason", err)
		case err != nil:
			p.logger.Warn("enrichment skipped", "kind", Classify(err), "error", err)
		}
	}
	cycle.Spent = p.crawler.now().Sub(start)
	return cycle, nil
}

// Start begins the polling loop.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		<-p.stopChan
		cancel()
	}()
	go func() {
		defer p.wg.Done()
		for {
			cycle, err := p.RunCycle(ctx)
			if err != nil {
				p.logger.Error("cycle failed", "error", err)
			}
			pause := Pause(cycle.Interval, cycle.Spent)
			p.logger.Info("cycle complete", "new_articles", len(cycle.Crawl.NewArticles),
				"spent", cycle.Spent, "next_in", pause)

			t := time.NewTimer(pause)
			select {
			case <-p.stopChan:
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPause(t *testing.T) {
	tests := []struct {
		interval, spent, want time.Duration
	}{
		{30 * time.Minute, 5 * time.Minute, 25 * time.Minute},
		{30 * time.Minute, 29*time.Minute + 55*time.Second, MinPause},
		{10 * time.Minute, 45 * time.Minute, MinPause},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Pause(tt.interval, tt.spent))
	}
}

func TestNewPollerDefaults(t *testing.T) {
	c := New(newTestStore(t), Options{}, WithFetcher(newStubFetcher()))
	p := NewPoller(c, PollerOptions{})
	assert.Equal(t, DefaultMinSleep, p.opts.MinSleep)
	assert.Equal(t, DefaultMaxSleep, p.opts.MaxSleep)
	for i := 0; i < 50; i++ {
		d := p.randomInterval()
		assert.GreaterOrEqual(t, d, DefaultMinSleep)
		assert.LessOrEqual(t, d, DefaultMaxSleep)
	}

	p = NewPoller(c, PollerOptions{MinSleep: time.Hour, MaxSleep: time.Minute})
	assert.Equal(t, time.Hour, p.opts.MaxSleep)
}

func TestRunCycle(t *testing.T) {
	db := newTestStore(t)
	fetcher := newStubFetcher()
	sub := addSubscription(t, db, "https://cycle.example/feed")
	fetcher.bodies[sub.Link] = feedXML("cycle", itemLinks("cycle", 4))

	c := New(db, Options{}, WithFetcher(fetcher), WithClock(func() time.Time { return fixedNow }))
	p := NewPoller(c, PollerOptions{})
	p.interval = func() time.Duration { return 20 * time.Minute }

	cycle, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, cycle.Interval)
	assert.Equal(t, 1, cycle.Crawl.Productive)
	assert.Len(t, cycle.Crawl.NewArticles, 4)
	// No enricher configured: nothing attempted.
	assert.Zero(t, cycle.Enrich.Attempted)
	assert.Equal(t, PhaseIdle, c.Phase())

	fake := &fakeEnricher{}
	c.enricher = fake
	fetcher.bodies[sub.Link] = feedXML("cycle", itemLinks("cycle-next", 4))
	sub.LastBuildAt = nil
	_, err = db.UpsertSubscription(context.Background(), &sub)
	require.NoError(t, err)

	cycle, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, cycle.Enrich.Attempted)
	assert.Equal(t, 4, cycle.Enrich.Failed)
}

func TestRunCycleWhileCrawlerBusy(t *testing.T) {
	c := New(newTestStore(t), Options{}, WithFetcher(newStubFetcher()))
	p := NewPoller(c, PollerOptions{})
	require.True(t, c.acquire())

	_, err := p.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	c.release()
	_, err = p.RunCycle(context.Background())
	assert.NoError(t, err)
}

func TestPollerStartStop(t *testing.T) {
	c := New(newTestStore(t), Options{}, WithFetcher(newStubFetcher()))
	p := NewPoller(c, PollerOptions{MinSleep: time.Hour, MaxSleep: time.Hour})
	p.Start()
	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

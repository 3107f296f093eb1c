// Package schedule decides when subscriptions are due and fits their
// refresh cadence from build history.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/bryan-buckman/infovore/internal/model"
)

// Defaults for Options.
const (
	DefaultWindow           = 7 * 24 * time.Hour
	DefaultInitialFrequency = 60.0 // minutes
	DefaultFreshnessFactor  = 0.9
)

// Store is the storage the scheduler needs. database.Store satisfies it.
type Store interface {
	CountSubscriptions(ctx context.Context) (total, neverBuilt int, err error)
	ListStaleSubscriptions(ctx context.Context, limit int) ([]model.Subscription, error)
	FindBuildConfigs(ctx context.Context, subscriptionIDs []int64) (map[int64]model.BuildConfig, error)
	UpsertBuildConfig(ctx context.Context, c model.BuildConfig) error
	QueryBuildRecords(ctx context.Context, q model.BuildRecordQuery) (model.Page[model.BuildRecord], error)
}

// Options tunes the scheduler.
type Options struct {
	// Window is how far back build records are considered when refitting.
	Window time.Duration
	// InitialFrequency in minutes is assumed for subscriptions without a config.
	InitialFrequency float64
	// FreshnessFactor is the fraction of the effective frequency that must
	// elapse before a built subscription is due again.
	FreshnessFactor float64
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.InitialFrequency <= 0 {
		o.InitialFrequency = DefaultInitialFrequency
	}
	if o.FreshnessFactor <= 0 {
		o.FreshnessFactor = DefaultFreshnessFactor
	}
	return o
}

// Scheduler selects refresh candidates and refits frequencies.
type Scheduler struct {
	store  Store
	opts   Options
	logger *slog.Logger
}

// New creates a scheduler.
func New(store Store, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "schedule"),
	}
}

// InitialFrequency is the cadence assumed for subscriptions without a config.
func (s *Scheduler) InitialFrequency() float64 {
	return s.opts.InitialFrequency
}

package schedule

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bryan-buckman/infovore/internal/model"
)

// FitFrequency estimates a publish cadence in minutes from the timestamps of
// productive builds. With three or more intervals the longest and shortest
// are dropped before averaging. It reports false when fewer than two
// timestamps are given.
func FitFrequency(timestamps []time.Time) (float64, bool) {
	if len(timestamps) < 2 {
		return 0, false
	}
	sorted := slices.Clone(timestamps)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })

	deltas := make([]float64, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		deltas = append(deltas, sorted[i].Sub(sorted[i-1]).Minutes())
	}
	if len(deltas) >= 3 {
		slices.Sort(deltas)
		deltas = deltas[1 : len(deltas)-1]
	}
	var sum float64
	for _, d := range deltas {
		sum += d
	}
	return sum / float64(len(deltas)), true
}

// Refit recomputes the fitted frequency of each subscription in ids from its
// qualifying build records within the window ending at now. sourceTypes
// carries the protocol observed during the run, when known. Subscriptions
// with fewer than two qualifying records keep their prior fit. It returns
// the number of configs written.
func (s *Scheduler) Refit(ctx context.Context, ids []int64, sourceTypes map[int64]model.SourceType, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	history, err := s.qualifyingHistory(ctx, ids, now)
	if err != nil {
		return 0, err
	}
	existing, err := s.store.FindBuildConfigs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("load build configs: %w", err)
	}

	written := 0
	for _, id := range ids {
		stamps := history[id]
		fitted, ok := FitFrequency(stamps)
		if !ok {
			continue
		}
		cfg, found := existing[id]
		if !found {
			cfg = model.BuildConfig{SubscriptionID: id, InitialFrequency: s.opts.InitialFrequency}
		}
		cfg.FittedFrequency = &fitted
		cfg.Adaptive = true
		cfg.SourceType = resolveSourceType(sourceTypes[id], cfg.SourceType)
		last := slices.MaxFunc(stamps, func(a, b time.Time) int { return a.Compare(b) })
		cfg.LastBuildAt = &last

		if err := s.store.UpsertBuildConfig(ctx, cfg); err != nil {
			s.logger.Error("failed to store fitted frequency", "subscription_id", id, "error", err)
			continue
		}
		s.logger.Debug("refit frequency", "subscription_id", id, "fitted_minutes", fitted,
			"ceiling_minutes", cfg.Ceiling(), "samples", len(stamps))
		written++
	}
	return written, nil
}

// qualifyingHistory pages through every record in the window and keeps the
// timestamps of those that count toward cadence, grouped by subscription.
func (s *Scheduler) qualifyingHistory(ctx context.Context, ids []int64, now time.Time) (map[int64][]time.Time, error) {
	after := now.Add(-s.opts.Window)
	q := model.BuildRecordQuery{
		SubscriptionIDs: ids,
		CreatedAfter:    &after,
		Page:            model.PageRequest{Page: 1, PageSize: model.MaxPageSize},
	}
	history := make(map[int64][]time.Time, len(ids))
	for {
		page, err := s.store.QueryBuildRecords(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("query build records: %w", err)
		}
		for _, r := range page.Items {
			if r.Status.CountsTowardCadence() {
				history[r.SubscriptionID] = append(history[r.SubscriptionID], r.CreatedAt)
			}
		}
		if !page.HasNext() {
			return history, nil
		}
		q.Page.Page++
	}
}

func resolveSourceType(observed, stored model.SourceType) model.SourceType {
	if observed != "" && observed != model.SourceUnknown {
		return observed
	}
	if stored != "" && stored != model.SourceUnknown {
		return stored
	}
	return model.SourceRSS
}

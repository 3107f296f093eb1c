package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/bryan-buckman/infovore/internal/model"
)

// CandidateLimit sizes a run: every never-built subscription plus a slice
// of the surplus of never-built over built ones spread across cycles.
// cycles below 1 count as 1.
func CandidateLimit(neverBuilt, built, cycles int) int {
	if cycles < 1 {
		cycles = 1
	}
	return neverBuilt + max(0, neverBuilt-built)/cycles
}

// Due reports whether a subscription last built at lastBuild is due at now
// given its effective frequency in minutes.
func Due(lastBuild time.Time, effective, factor float64, now time.Time) bool {
	elapsed := now.Sub(lastBuild).Minutes()
	return elapsed >= factor*effective
}

// SelectCandidates returns the subscriptions to refresh in this run, stalest
// first. Never-built subscriptions are always included; built ones are
// dropped while they are not yet due.
func (s *Scheduler) SelectCandidates(ctx context.Context, expectedCycles int, now time.Time) ([]model.Subscription, error) {
	total, neverBuilt, err := s.store.CountSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	limit := CandidateLimit(neverBuilt, total-neverBuilt, expectedCycles)
	stale, err := s.store.ListStaleSubscriptions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale subscriptions: %w", err)
	}

	var builtIDs []int64
	for _, sub := range stale {
		if !sub.NeverBuilt() {
			builtIDs = append(builtIDs, sub.ID)
		}
	}
	configs, err := s.store.FindBuildConfigs(ctx, builtIDs)
	if err != nil {
		return nil, fmt.Errorf("load build configs: %w", err)
	}

	candidates := make([]model.Subscription, 0, len(stale))
	for _, sub := range stale {
		if sub.NeverBuilt() {
			candidates = append(candidates, sub)
			continue
		}
		cfg, ok := configs[sub.ID]
		if !ok {
			cfg = model.BuildConfig{SubscriptionID: sub.ID, InitialFrequency: s.opts.InitialFrequency}
		}
		effective := cfg.EffectiveFrequency()
		if !Due(*sub.LastBuildAt, effective, s.opts.FreshnessFactor, now) {
			s.logger.Debug("subscription not due", "subscription_id", sub.ID,
				"effective_minutes", effective, "ceiling_minutes", cfg.Ceiling(),
				"elapsed_minutes", now.Sub(*sub.LastBuildAt).Minutes())
			continue
		}
		candidates = append(candidates, sub)
	}
	s.logger.Info("selected candidates", "total", total, "never_built", neverBuilt,
		"limit", limit, "selected", len(candidates))
	return candidates, nil
}

package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/bryan-buckman/infovore/internal/database"
	"github.com/bryan-buckman/infovore/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minutes(base time.Time, offsets ...int) []time.Time {
	out := make([]time.Time, len(offsets))
	for i, m := range offsets {
		out[i] = base.Add(time.Duration(m) * time.Minute)
	}
	return out
}

func TestFitFrequency(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		stamps []time.Time
		want   float64
		ok     bool
	}{
		{name: "outliers trimmed", stamps: minutes(base, 0, 60, 120, 180, 3000), want: 60, ok: true},
		{name: "unsorted input", stamps: minutes(base, 3000, 120, 0, 180, 60), want: 60, ok: true},
		{name: "two deltas averaged without trim", stamps: minutes(base, 0, 10, 40), want: 20, ok: true},
		{name: "single delta", stamps: minutes(base, 0, 45), want: 45, ok: true},
		{name: "one timestamp", stamps: minutes(base, 0), ok: false},
		{name: "no timestamps", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FitFrequency(tt.stamps)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestCandidateLimit(t *testing.T) {
	tests := []struct {
		neverBuilt, built, cycles, want int
	}{
		{neverBuilt: 3, built: 0, cycles: 1, want: 6},
		{neverBuilt: 10, built: 2, cycles: 4, want: 12},
		{neverBuilt: 2, built: 5, cycles: 4, want: 2},
		{neverBuilt: 10, built: 0, cycles: 0, want: 20},
		{neverBuilt: 0, built: 10, cycles: 3, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CandidateLimit(tt.neverBuilt, tt.built, tt.cycles),
			"never=%d built=%d cycles=%d", tt.neverBuilt, tt.built, tt.cycles)
	}
}

func TestDue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, Due(now.Add(-50*time.Minute), 60, DefaultFreshnessFactor, now))
	assert.True(t, Due(now.Add(-59*time.Minute), 60, DefaultFreshnessFactor, now))
	assert.True(t, Due(now.Add(-54*time.Minute), 60, DefaultFreshnessFactor, now))
}

func newStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addSub(t *testing.T, db *database.DB, link string, lastBuild *time.Time) int64 {
	t.Helper()
	sub := model.Subscription{Link: link, LastBuildAt: lastBuild}
	_, err := db.UpsertSubscription(context.Background(), &sub)
	require.NoError(t, err)
	return sub.ID
}

func TestSelectCandidates(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ago := func(m int) *time.Time {
		at := now.Add(-time.Duration(m) * time.Minute)
		return &at
	}

	var never []int64
	for _, link := range []string{"n1", "n2", "n3", "n4"} {
		never = append(never, addSub(t, db, "https://"+link+".example/feed", nil))
	}
	fresh := addSub(t, db, "https://fresh.example/feed", ago(50))
	due := addSub(t, db, "https://due.example/feed", ago(59))

	fitted := 60.0
	for _, id := range []int64{fresh, due} {
		require.NoError(t, db.UpsertBuildConfig(ctx, model.BuildConfig{
			SubscriptionID:   id,
			InitialFrequency: 600,
			FittedFrequency:  &fitted,
			Adaptive:         true,
		}))
	}

	s := New(db, Options{}, nil)
	subs, err := s.SelectCandidates(ctx, 1, now)
	require.NoError(t, err)

	var ids []int64
	for _, sub := range subs {
		ids = append(ids, sub.ID)
	}
	assert.Equal(t, append(never, due), ids)
}

func TestSelectCandidatesWithoutConfig(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * time.Minute)
	old := now.Add(-2 * time.Hour)

	for _, link := range []string{"a", "b", "c", "d"} {
		addSub(t, db, "https://"+link+".example/feed", nil)
	}
	addSub(t, db, "https://recent.example/feed", &recent)
	oldID := addSub(t, db, "https://old.example/feed", &old)

	// Without a config the default initial frequency gates: 30 minutes is
	// too soon for a 60 minute cadence, two hours is not.
	s := New(db, Options{InitialFrequency: 60}, nil)
	subs, err := s.SelectCandidates(ctx, 1, now)
	require.NoError(t, err)
	require.Len(t, subs, 5)
	assert.Equal(t, oldID, subs[4].ID)
}

func TestSelectCandidatesOnlyBuilt(t *testing.T) {
	db := newStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	addSub(t, db, "https://old.example/feed", &old)

	subs, err := New(db, Options{}, nil).SelectCandidates(context.Background(), 4, now)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRefit(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	base := now.Add(-72 * time.Hour)

	sub := addSub(t, db, "https://busy.example/feed", nil)
	lonely := addSub(t, db, "https://lonely.example/feed", nil)

	require.NoError(t, db.UpsertBuildConfig(ctx, model.BuildConfig{
		SubscriptionID:   sub,
		InitialFrequency: 120,
		SourceType:       model.SourceAtom,
	}))

	record := func(id int64, status model.BuildStatus, at time.Time) {
		_, err := db.AppendBuildRecord(ctx, model.BuildRecord{SubscriptionID: id, Status: status, CreatedAt: at})
		require.NoError(t, err)
	}
	for i, at := range minutes(base, 0, 60, 120, 180, 3000) {
		status := model.StatusFullSuccess
		if i == 2 {
			status = model.StatusMostlySuccess
		}
		record(sub, status, at)
	}
	record(sub, model.StatusFailed, base.Add(10*time.Minute))
	record(sub, model.StatusFullSuccess, now.Add(-8*24*time.Hour))
	record(lonely, model.StatusFullSuccess, base)

	s := New(db, Options{}, nil)
	n, err := s.Refit(ctx, []int64{sub, lonely}, map[int64]model.SourceType{}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cfg, err := db.FindBuildConfig(ctx, sub)
	require.NoError(t, err)
	require.NotNil(t, cfg.FittedFrequency)
	assert.InDelta(t, 60.0, *cfg.FittedFrequency, 1e-9)
	assert.True(t, cfg.Adaptive)
	assert.Equal(t, 120.0, cfg.InitialFrequency)
	assert.Equal(t, model.SourceAtom, cfg.SourceType)
	require.NotNil(t, cfg.LastBuildAt)
	assert.True(t, cfg.LastBuildAt.Equal(base.Add(3000*time.Minute)))

	_, err = db.FindBuildConfig(ctx, lonely)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestRefitNewConfig(t *testing.T) {
	db := newStore(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	sub := addSub(t, db, "https://new.example/feed", nil)

	for _, at := range minutes(now.Add(-time.Hour), 0, 30) {
		_, err := db.AppendBuildRecord(ctx, model.BuildRecord{SubscriptionID: sub, Status: model.StatusFullSuccess, CreatedAt: at})
		require.NoError(t, err)
	}

	s := New(db, Options{InitialFrequency: 90}, nil)
	_, err := s.Refit(ctx, []int64{sub}, nil, now)
	require.NoError(t, err)

	cfg, err := db.FindBuildConfig(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, 90.0, cfg.InitialFrequency)
	assert.Equal(t, model.SourceRSS, cfg.SourceType)
	assert.InDelta(t, 30.0, cfg.EffectiveFrequency(), 1e-9)
}

func TestResolveSourceType(t *testing.T) {
	assert.Equal(t, model.SourceJSON, resolveSourceType(model.SourceJSON, model.SourceAtom))
	assert.Equal(t, model.SourceAtom, resolveSourceType(model.SourceUnknown, model.SourceAtom))
	assert.Equal(t, model.SourceRSS, resolveSourceType("", ""))
}

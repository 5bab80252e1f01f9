package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuseats/menud/internal/menu"
)

func rec(provider string, day int, slot menu.MealSlot, version int64) menu.Record {
	return menu.Record{
		ProviderID:  provider,
		ServingDate: time.Date(2024, 5, day, 0, 0, 0, 0, time.UTC),
		Slot:        slot,
		Items:       []menu.MenuItem{{Name: "dish"}},
		Source:      menu.SourceCrawled,
		ContentHash: "hash",
		Version:     version,
	}
}

func TestUpsertInsertSemantics(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	r := rec("tip", 1, menu.SlotLunch, 1)

	_, err := s.GetCurrent(ctx, r.Key())
	require.ErrorIs(t, err, menu.ErrNotFound)

	require.NoError(t, s.Upsert(ctx, r, 0))

	got, err := s.GetCurrent(ctx, r.Key())
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Version)

	// Insert-if-absent loses when the key already exists.
	require.ErrorIs(t, s.Upsert(ctx, r, 0), menu.ErrConflict)
}

func TestUpsertVersionCheck(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, rec("tip", 1, menu.SlotLunch, 1), 0))

	next := rec("tip", 1, menu.SlotLunch, 2)
	require.ErrorIs(t, s.Upsert(ctx, next, 5), menu.ErrConflict)
	require.NoError(t, s.Upsert(ctx, next, 1))

	got, err := s.GetCurrent(ctx, next.Key())
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
}

func TestListOrderingAndFilters(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, r := range []menu.Record{
		rec("tip", 2, menu.SlotLunch, 1),
		rec("tip", 1, menu.SlotDinner, 1),
		rec("tip", 1, menu.SlotBreakfast, 1),
		rec("edong", 1, menu.SlotLunch, 1),
	} {
		require.NoError(t, s.Upsert(ctx, r, 0))
	}

	out, err := s.List(ctx, menu.ListQuery{})
	require.NoError(t, err)
	require.Len(t, out, 4)
	require.Equal(t, "edong", out[0].ProviderID)
	require.Equal(t, menu.SlotBreakfast, out[1].Slot)
	require.Equal(t, menu.SlotDinner, out[2].Slot)
	require.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), out[3].ServingDate)

	out, err = s.List(ctx, menu.ListQuery{ProviderID: "tip", Slot: menu.SlotDinner})
	require.NoError(t, err)
	require.Len(t, out, 1)

	out, err = s.List(ctx, menu.ListQuery{
		From: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, menu.SlotLunch, out[0].Slot)
}

func TestListKeysetCursor(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, r := range []menu.Record{
		rec("tip", 1, menu.SlotBreakfast, 1),
		rec("tip", 1, menu.SlotLunch, 1),
		rec("tip", 1, menu.SlotDinner, 1),
	} {
		require.NoError(t, s.Upsert(ctx, r, 0))
	}

	first, err := s.List(ctx, menu.ListQuery{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)

	cursor := first[1].SortKey()
	rest, err := s.List(ctx, menu.ListQuery{After: &cursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, menu.SlotDinner, rest[0].Slot)
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	run := menu.CrawlRun{
		ID:        "run-1",
		Trigger:   menu.TriggerManual,
		StartedAt: time.Now().UTC(),
		Outcome:   menu.RunRunning,
	}
	require.NoError(t, s.CreateRun(ctx, run))
	require.Error(t, s.CreateRun(ctx, run), "duplicate create must fail")

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, menu.RunRunning, got.Outcome)

	finished := time.Now().UTC()
	run.FinishedAt = &finished
	run.Outcome = menu.RunSuccess
	require.NoError(t, s.FinalizeRun(ctx, run))
	require.Error(t, s.FinalizeRun(ctx, run), "a run finalizes once")

	_, err = s.GetRun(ctx, "missing")
	require.ErrorIs(t, err, menu.ErrNotFound)
}

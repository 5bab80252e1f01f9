package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuseats/menud/internal/cache"
	"github.com/campuseats/menud/internal/menu"
	memstore "github.com/campuseats/menud/internal/store/memory"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

// countingStore tracks List calls and can be switched to fail.
type countingStore struct {
	menu.Store
	lists   int
	listErr error
}

func (s *countingStore) List(ctx context.Context, q menu.ListQuery) ([]menu.Record, error) {
	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.List(ctx, q)
}

func day(d int) time.Time {
	return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC)
}

func seed(t *testing.T, store menu.Store, provider string, date time.Time, slots ...menu.MealSlot) {
	t.Helper()
	for _, slot := range slots {
		rec := menu.Record{
			ProviderID:  provider,
			ServingDate: date,
			Slot:        slot,
			Items:       []menu.MenuItem{{Name: "dish"}},
			Source:      menu.SourceCrawled,
			ContentHash: provider + date.Format(menu.DateLayout) + string(slot),
			Version:     1,
		}
		require.NoError(t, store.Upsert(context.Background(), rec, 0))
	}
}

func newService(store menu.Store) (*Service, *cache.Cache) {
	clk := &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.New(cache.Config{Capacity: 16, TTL: time.Minute, Grace: time.Minute}, clk, nil)
	return New(Config{DefaultPageSize: 50, MaxPageSize: 500}, store, c, nil), c
}

func TestListMenusOrderAndPagination(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	seed(t, store, "tip", day(1), menu.SlotDinner, menu.SlotBreakfast, menu.SlotLunch)
	seed(t, store, "edong", day(1), menu.SlotLunch)
	seed(t, store, "tip", day(2), menu.SlotLunch)
	svc, _ := newService(store)
	ctx := context.Background()

	var all []menu.Record
	token := ""
	pages := 0
	for {
		page, err := svc.ListMenus(ctx, Filters{PageSize: 2, PageToken: token})
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Records), 2)
		all = append(all, page.Records...)
		pages++
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	require.Equal(t, 3, pages)
	require.Len(t, all, 5)

	// Date ascending, then provider, then slot rank: no gaps, no repeats.
	for i := 1; i < len(all); i++ {
		require.True(t, all[i-1].SortKey().Less(all[i].SortKey()),
			"records %d and %d out of order", i-1, i)
	}
	require.Equal(t, "edong", all[0].ProviderID)
	require.Equal(t, menu.SlotBreakfast, all[1].Slot)
	require.Equal(t, menu.SlotLunch, all[2].Slot)
	require.Equal(t, menu.SlotDinner, all[3].Slot)
	require.Equal(t, day(2), all[4].ServingDate)
}

func TestListMenusInsertBetweenPages(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	seed(t, store, "tip", day(1), menu.SlotBreakfast, menu.SlotDinner)
	seed(t, store, "tip", day(3), menu.SlotLunch)
	svc, _ := newService(store)
	ctx := context.Background()

	first, err := svc.ListMenus(ctx, Filters{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	require.NotEmpty(t, first.NextPageToken)

	// A record landing behind the cursor must not resurface; one ahead must.
	seed(t, store, "tip", day(1), menu.SlotLunch)
	seed(t, store, "tip", day(2), menu.SlotLunch)

	second, err := svc.ListMenus(ctx, Filters{PageSize: 10, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Records, 2)
	require.Equal(t, day(2), second.Records[0].ServingDate)
	require.Equal(t, day(3), second.Records[1].ServingDate)
}

func TestListMenusFilters(t *testing.T) {
	t.Parallel()

	store := memstore.New()
	seed(t, store, "tip", day(1), menu.SlotLunch, menu.SlotDinner)
	seed(t, store, "tip", day(2), menu.SlotLunch)
	seed(t, store, "edong", day(1), menu.SlotLunch)
	svc, _ := newService(store)
	ctx := context.Background()

	page, err := svc.ListMenus(ctx, Filters{ProviderID: "tip", Slot: menu.SlotLunch})
	require.NoError(t, err)
	require.Len(t, page.Records, 2)

	page, err = svc.ListMenus(ctx, Filters{From: day(2), To: day(2)})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	require.Equal(t, day(2), page.Records[0].ServingDate)
}

func TestListMenusInvalidFilters(t *testing.T) {
	t.Parallel()

	svc, _ := newService(memstore.New())
	ctx := context.Background()

	_, err := svc.ListMenus(ctx, Filters{Slot: menu.MealSlot("brunch")})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = svc.ListMenus(ctx, Filters{From: day(5), To: day(2)})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = svc.ListMenus(ctx, Filters{PageToken: "not-a-token!!"})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestListMenusReadThroughCachesSingleDay(t *testing.T) {
	t.Parallel()

	inner := memstore.New()
	seed(t, inner, "tip", day(1), menu.SlotLunch, menu.SlotDinner)
	store := &countingStore{Store: inner}
	svc, _ := newService(store)
	ctx := context.Background()

	f := Filters{ProviderID: "tip", From: day(1), To: day(1)}
	page, err := svc.ListMenus(ctx, f)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, 1, store.lists)

	// Second read is served from cache without touching the store.
	page, err = svc.ListMenus(ctx, f)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, 1, store.lists)
	require.False(t, page.Stale)
}

func TestListMenusStaleServeOnStoreOutage(t *testing.T) {
	t.Parallel()

	clk := &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	c := cache.New(cache.Config{Capacity: 16, TTL: time.Minute, Grace: time.Minute}, clk, nil)
	inner := memstore.New()
	seed(t, inner, "tip", day(1), menu.SlotLunch)
	store := &countingStore{Store: inner}
	svc := New(Config{}, store, c, nil)
	ctx := context.Background()

	f := Filters{ProviderID: "tip", From: day(1), To: day(1)}
	_, err := svc.ListMenus(ctx, f)
	require.NoError(t, err)

	// The entry expires, then the store goes down: the expired entry is
	// served inside the grace window and marked stale.
	clk.now = clk.now.Add(90 * time.Second)
	store.listErr = errors.New("connection refused")

	page, err := svc.ListMenus(ctx, f)
	require.NoError(t, err)
	require.True(t, page.Stale)
	require.Len(t, page.Records, 1)

	// Past the grace window the outage surfaces as an error.
	clk.now = clk.now.Add(time.Minute)
	_, err = svc.ListMenus(ctx, f)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidFilter)
}

func TestListMenusStoreErrorWithoutCache(t *testing.T) {
	t.Parallel()

	store := &countingStore{Store: memstore.New(), listErr: errors.New("down")}
	svc, _ := newService(store)

	_, err := svc.ListMenus(context.Background(), Filters{ProviderID: "tip"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidFilter)
}

func TestPageTokenRoundTrip(t *testing.T) {
	t.Parallel()

	key := menu.SortKey{ServingDate: day(3), ProviderID: "tip", Slot: menu.SlotDinner}
	got, err := decodeToken(encodeToken(key))
	require.NoError(t, err)
	require.Equal(t, key, got)
}

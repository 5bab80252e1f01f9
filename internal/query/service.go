// Package query implements the read contract consumed by the API layer.
package query

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campuseats/menud/internal/menu"
)

// ErrInvalidFilter marks unusable query parameters. It is surfaced to the
// caller and never retried.
var ErrInvalidFilter = errors.New("invalid filter")

// Config bounds pagination.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Filters restricts a menu listing. Zero values mean "no restriction".
type Filters struct {
	ProviderID string
	From       time.Time
	To         time.Time
	Slot       menu.MealSlot
	PageToken  string
	PageSize   int
}

// Page is one ordered slice of the listing. Stale is set when the page
// was served from an expired cache entry during a store outage.
type Page struct {
	Records       []menu.Record `json:"records"`
	NextPageToken string        `json:"next_page_token,omitempty"`
	Stale         bool          `json:"stale,omitempty"`
}

// Service answers reads from the cache first, then the store.
type Service struct {
	cfg    Config
	store  menu.Store
	cache  menu.Cache
	logger *zap.Logger
}

// New constructs a Service.
func New(cfg Config, store menu.Store, cache menu.Cache, logger *zap.Logger) *Service {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 50
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, store: store, cache: cache, logger: logger}
}

// ListMenus returns one page in date/provider/slot order. Page tokens
// encode the last-seen sort key, so they stay valid across concurrent
// inserts: a record inserted behind the cursor is simply never revisited.
func (s *Service) ListMenus(ctx context.Context, f Filters) (Page, error) {
	limit := f.PageSize
	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	if f.Slot != "" && !f.Slot.Valid() {
		return Page{}, fmt.Errorf("%w: unknown meal slot %q", ErrInvalidFilter, f.Slot)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return Page{}, fmt.Errorf("%w: date range ends before it starts", ErrInvalidFilter)
	}

	var after *menu.SortKey
	if f.PageToken != "" {
		key, err := decodeToken(f.PageToken)
		if err != nil {
			return Page{}, fmt.Errorf("%w: bad page token", ErrInvalidFilter)
		}
		after = &key
	}

	if key, ok := s.cacheableKey(f, after); ok {
		return s.readThrough(ctx, key, f, limit)
	}
	return s.fromStore(ctx, f, after, limit)
}

// cacheableKey reports whether the filters match a cache entry shape:
// one provider, one day, no slot restriction, first page.
func (s *Service) cacheableKey(f Filters, after *menu.SortKey) (string, bool) {
	if f.ProviderID == "" || after != nil || f.Slot != "" {
		return "", false
	}
	if f.From.IsZero() || !f.From.Equal(f.To) {
		return "", false
	}
	return menu.CacheKey(f.ProviderID, f.From), true
}

func (s *Service) readThrough(ctx context.Context, key string, f Filters, limit int) (Page, error) {
	if snap, ok := s.cache.Get(key); ok {
		return pageOf(snap.Records, limit, false), nil
	}

	records, err := s.store.List(ctx, menu.ListQuery{
		ProviderID: f.ProviderID,
		From:       f.From,
		To:         f.To,
	})
	if err != nil {
		// Availability over freshness: an expired entry inside the grace
		// window beats a hard error during a store outage.
		if snap, ok := s.cache.GetStale(key); ok {
			return pageOf(snap.Records, limit, snap.Stale), nil
		}
		return Page{}, fmt.Errorf("list menus: %w", err)
	}

	var version int64
	for _, rec := range records {
		if rec.Version > version {
			version = rec.Version
		}
	}
	s.cache.Put(key, menu.Snapshot{
		Records: records,
		Version: version,
		BuiltAt: time.Now().UTC(),
	})
	return pageOf(records, limit, false), nil
}

func (s *Service) fromStore(ctx context.Context, f Filters, after *menu.SortKey, limit int) (Page, error) {
	records, err := s.store.List(ctx, menu.ListQuery{
		ProviderID: f.ProviderID,
		From:       f.From,
		To:         f.To,
		Slot:       f.Slot,
		After:      after,
		Limit:      limit + 1,
	})
	if err != nil {
		return Page{}, fmt.Errorf("list menus: %w", err)
	}
	return pageOf(records, limit, false), nil
}

func pageOf(records []menu.Record, limit int, stale bool) Page {
	page := Page{Records: records, Stale: stale}
	if len(records) > limit {
		page.Records = records[:limit]
		page.NextPageToken = encodeToken(page.Records[limit-1].SortKey())
	}
	return page
}

// pageToken is the wire form of a sort key: compact and layout-stable.
type pageToken struct {
	Date     string `json:"d"`
	Provider string `json:"p"`
	Slot     string `json:"s"`
}

func encodeToken(key menu.SortKey) string {
	raw, _ := json.Marshal(pageToken{
		Date:     key.ServingDate.Format(menu.DateLayout),
		Provider: key.ProviderID,
		Slot:     string(key.Slot),
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeToken(token string) (menu.SortKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return menu.SortKey{}, fmt.Errorf("decode token: %w", err)
	}
	var pt pageToken
	if err := json.Unmarshal(raw, &pt); err != nil {
		return menu.SortKey{}, fmt.Errorf("unmarshal token: %w", err)
	}
	date, err := time.Parse(menu.DateLayout, pt.Date)
	if err != nil {
		return menu.SortKey{}, fmt.Errorf("parse token date: %w", err)
	}
	slot, err := menu.ParseSlot(pt.Slot)
	if err != nil {
		return menu.SortKey{}, err
	}
	return menu.SortKey{
		ServingDate: menu.Date(date),
		ProviderID:  pt.Provider,
		Slot:        slot,
	}, nil
}

// Package memory provides an in-memory store for development/testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/campuseats/menud/internal/menu"
)

// Store implements menu.Store with maps guarded by a RWMutex. The
// version check in Upsert mirrors the optimistic semantics of the
// Postgres store so the reconciler behaves identically against either.
type Store struct {
	mu      sync.RWMutex
	records map[string]menu.Record
	runs    map[string]menu.CrawlRun
}

// New constructs a Store.
func New() *Store {
	return &Store{
		records: make(map[string]menu.Record),
		runs:    make(map[string]menu.CrawlRun),
	}
}

// GetCurrent fetches the current record for a key.
func (s *Store) GetCurrent(_ context.Context, key menu.Key) (menu.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key.String()]
	if !ok {
		return menu.Record{}, menu.ErrNotFound
	}
	return rec, nil
}

// Upsert writes rec if the stored version matches expectVersion.
func (s *Store) Upsert(_ context.Context, rec menu.Record, expectVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rec.Key().String()
	current, exists := s.records[k]
	if expectVersion == 0 {
		if exists {
			return menu.ErrConflict
		}
	} else if !exists || current.Version != expectVersion {
		return menu.ErrConflict
	}
	s.records[k] = rec
	return nil
}

// List returns records matching q in date/provider/slot order.
func (s *Store) List(_ context.Context, q menu.ListQuery) ([]menu.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]menu.Record, 0)
	for _, rec := range s.records {
		if q.ProviderID != "" && rec.ProviderID != q.ProviderID {
			continue
		}
		if !q.From.IsZero() && rec.ServingDate.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && rec.ServingDate.After(q.To) {
			continue
		}
		if q.Slot != "" && rec.Slot != q.Slot {
			continue
		}
		if q.After != nil && !q.After.Less(rec.SortKey()) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SortKey().Less(out[j].SortKey())
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// CreateRun stores a new crawl run.
func (s *Store) CreateRun(_ context.Context, run menu.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// FinalizeRun records a run's terminal state. A run finalizes once.
func (s *Store) FinalizeRun(_ context.Context, run menu.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s not found", run.ID)
	}
	if current.FinishedAt != nil {
		return fmt.Errorf("run %s already finalized", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *Store) GetRun(_ context.Context, id string) (menu.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return menu.CrawlRun{}, menu.ErrNotFound
	}
	return run, nil
}

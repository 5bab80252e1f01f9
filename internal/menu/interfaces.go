package menu

import (
	"context"
	"errors"
	"time"
)

// Store errors shared by all implementations.
var (
	// ErrNotFound is returned when no current record exists for a key.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an optimistic version check fails.
	ErrConflict = errors.New("version conflict")
)

// Store persists menu records and crawl runs. Upserts are atomic per key:
// the expected version is compared-and-swapped so a stale read never
// clobbers a concurrent change.
type Store interface {
	// GetCurrent returns the current record for a key or ErrNotFound.
	GetCurrent(ctx context.Context, key Key) (Record, error)
	// Upsert writes rec. expectVersion 0 means insert-if-absent; any other
	// value must match the stored version or ErrConflict is returned.
	Upsert(ctx context.Context, rec Record, expectVersion int64) error
	// List returns records matching q in the total read order.
	List(ctx context.Context, q ListQuery) ([]Record, error)

	CreateRun(ctx context.Context, run CrawlRun) error
	FinalizeRun(ctx context.Context, run CrawlRun) error
	GetRun(ctx context.Context, id string) (CrawlRun, error)
}

// Fetcher retrieves the raw document for a target. Implementations apply
// a bounded timeout and never retry; backoff is the scheduler's concern.
type Fetcher interface {
	Fetch(ctx context.Context, target Target) (FetchResult, error)
}

// Parser converts raw source content into normalized drafts. Must be pure:
// drop reasons are returned, not logged, so callers own observability.
type Parser interface {
	Parse(res FetchResult, target Target) (ParseOutput, error)
}

// Cache is the ephemeral read-through layer keyed by provider and date.
type Cache interface {
	Get(key string) (Snapshot, bool)
	// GetStale returns an expired entry still inside the grace window.
	GetStale(key string) (Snapshot, bool)
	Put(key string, snap Snapshot)
	Invalidate(key string)
}

// Publisher pushes change events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) (string, error)
}

// SnapshotStore archives raw fetched documents and returns a URI.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// CacheKey builds the cache key for a provider and serving date.
func CacheKey(providerID string, date time.Time) string {
	return providerID + "|" + date.Format(DateLayout)
}

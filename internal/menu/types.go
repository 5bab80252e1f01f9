// Package menu defines core types shared across subsystems.
package menu

import (
	"fmt"
	"time"
)

// MealSlot identifies which serving of the day a record covers.
type MealSlot string

// Meal slot values persisted with each record.
const (
	SlotBreakfast MealSlot = "breakfast"
	SlotLunch     MealSlot = "lunch"
	SlotDinner    MealSlot = "dinner"
	SlotOther     MealSlot = "other"
)

// slotRanks fixes the sort position of each slot within a day.
var slotRanks = map[MealSlot]int{
	SlotBreakfast: 0,
	SlotLunch:     1,
	SlotDinner:    2,
	SlotOther:     3,
}

// Rank returns the slot's position in the fixed breakfast/lunch/dinner/other order.
func (s MealSlot) Rank() int {
	if r, ok := slotRanks[s]; ok {
		return r
	}
	return len(slotRanks)
}

// Valid reports whether s is one of the known slot values.
func (s MealSlot) Valid() bool {
	_, ok := slotRanks[s]
	return ok
}

// ParseSlot converts a string into a MealSlot.
func ParseSlot(raw string) (MealSlot, error) {
	s := MealSlot(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown meal slot %q", raw)
	}
	return s, nil
}

// Source records which channel a record arrived through.
type Source string

// Source values. Crawled records and vendor submissions own disjoint
// provider namespaces, so the two channels never write the same key.
const (
	SourceCrawled Source = "crawled"
	SourceVendor  Source = "vendor"
)

// MenuItem is one dish on a menu.
type MenuItem struct {
	Name  string   `json:"name"`
	Price *int     `json:"price,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Key identifies the one current record per provider, date and slot.
type Key struct {
	ProviderID  string
	ServingDate time.Time
	Slot        MealSlot
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%s", k.ProviderID, k.ServingDate.Format(DateLayout), k.Slot)
}

// DateLayout is the canonical serving-date encoding used in keys and tokens.
const DateLayout = "2006-01-02"

// Date truncates t to a UTC calendar date, the form all ServingDate
// fields are stored in.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Record is the canonical menu unit served to readers.
type Record struct {
	ProviderID  string     `json:"provider_id"`
	ServingDate time.Time  `json:"serving_date"`
	Slot        MealSlot   `json:"meal_slot"`
	Items       []MenuItem `json:"items"`
	Source      Source     `json:"source"`
	ContentHash string     `json:"content_hash"`
	Version     int64      `json:"version"`
	UpdatedAt   time.Time  `json:"last_updated_at"`
}

// Key returns the record's identity tuple.
func (r Record) Key() Key {
	return Key{ProviderID: r.ProviderID, ServingDate: r.ServingDate, Slot: r.Slot}
}

// SortKey returns the record's position in the total read order.
func (r Record) SortKey() SortKey {
	return SortKey{ServingDate: r.ServingDate, ProviderID: r.ProviderID, Slot: r.Slot}
}

// Draft is a parsed, normalized candidate record before reconciliation.
// It carries no version or source; the reconciler decides its fate.
type Draft struct {
	ProviderID  string
	ServingDate time.Time
	Slot        MealSlot
	Items       []MenuItem
	ContentHash string
}

// Key returns the draft's identity tuple.
func (d Draft) Key() Key {
	return Key{ProviderID: d.ProviderID, ServingDate: d.ServingDate, Slot: d.Slot}
}

// SortKey orders records by date, then provider, then slot rank. The
// ordering is total, so keyset pagination never duplicates or skips.
type SortKey struct {
	ServingDate time.Time `json:"d"`
	ProviderID  string    `json:"p"`
	Slot        MealSlot  `json:"s"`
}

// Less reports whether k sorts strictly before other.
func (k SortKey) Less(other SortKey) bool {
	if !k.ServingDate.Equal(other.ServingDate) {
		return k.ServingDate.Before(other.ServingDate)
	}
	if k.ProviderID != other.ProviderID {
		return k.ProviderID < other.ProviderID
	}
	return k.Slot.Rank() < other.Slot.Rank()
}

// RunTrigger records what started a crawl run.
type RunTrigger string

// Run trigger values.
const (
	TriggerScheduled RunTrigger = "scheduled"
	TriggerManual    RunTrigger = "manual"
)

// RunOutcome is the lifecycle state of a crawl run.
type RunOutcome string

// Run outcome values. A run is failure only when every target failed.
const (
	RunRunning RunOutcome = "running"
	RunSuccess RunOutcome = "success"
	RunPartial RunOutcome = "partial"
	RunFailure RunOutcome = "failure"
)

// RunCounters tracks per-run reconciliation stats.
type RunCounters struct {
	Seen    int `json:"records_seen"`
	Changed int `json:"records_changed"`
	Skipped int `json:"records_skipped"`
	Failed  int `json:"records_failed"`
}

// Add accumulates another counter set.
func (c *RunCounters) Add(other RunCounters) {
	c.Seen += other.Seen
	c.Changed += other.Changed
	c.Skipped += other.Skipped
	c.Failed += other.Failed
}

// CrawlRun is one scheduled or on-demand crawl execution. It is created
// at trigger time, mutated only by the cycle that owns it, and finalized
// exactly once.
type CrawlRun struct {
	ID          string      `json:"id"`
	Trigger     RunTrigger  `json:"trigger"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	Outcome     RunOutcome  `json:"outcome"`
	Counters    RunCounters `json:"counters"`
	ErrorDetail string      `json:"error_detail,omitempty"`
}

// ChangeEvent is published for every accepted insert or update.
type ChangeEvent struct {
	ProviderID  string    `json:"provider_id"`
	ServingDate string    `json:"serving_date"`
	Slot        MealSlot  `json:"meal_slot"`
	Version     int64     `json:"version"`
	ContentHash string    `json:"content_hash"`
	ChangedAt   time.Time `json:"changed_at"`
}

// TargetKind selects the parser for a crawl target.
type TargetKind string

// Supported source formats.
const (
	TargetHTML TargetKind = "html"
	TargetFeed TargetKind = "feed"
)

// ParseRules configures format-specific extraction for one target.
// Slot labels and selectors live in configuration rather than code so a
// source's layout drift is a config change, not a release.
type ParseRules struct {
	DaySelector  string            `json:"day_selector" mapstructure:"day_selector"`
	DateSelector string            `json:"date_selector" mapstructure:"date_selector"`
	SlotSelector string            `json:"slot_selector" mapstructure:"slot_selector"`
	ItemSelector string            `json:"item_selector" mapstructure:"item_selector"`
	SlotLabels   map[string]string `json:"slot_labels" mapstructure:"slot_labels"`
	DateFormats  []string          `json:"date_formats" mapstructure:"date_formats"`
	Placeholders []string          `json:"placeholders" mapstructure:"placeholders"`
}

// Target describes one configured crawl source.
type Target struct {
	Name       string     `json:"name" mapstructure:"name"`
	Kind       TargetKind `json:"kind" mapstructure:"kind"`
	URL        string     `json:"url" mapstructure:"url"`
	ProviderID string     `json:"provider_id" mapstructure:"provider_id"`
	Rules      ParseRules `json:"rules" mapstructure:"rules"`
}

// FetchResult is the raw outcome of one fetch, prior to parsing.
type FetchResult struct {
	Target      string
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
	FetchedAt   time.Time
}

// ParseOutput is the result of parsing one fetched document. Records the
// parser had to discard (for example an unresolvable serving date) are
// reported in Dropped rather than failing the batch.
type ParseOutput struct {
	Drafts  []Draft
	Dropped []DroppedDraft
}

// DroppedDraft names a record the parser discarded and why.
type DroppedDraft struct {
	Section string
	Reason  string
}

// ListQuery filters and paginates store reads.
type ListQuery struct {
	ProviderID string
	From       time.Time
	To         time.Time
	Slot       MealSlot
	After      *SortKey
	Limit      int
}

// Snapshot is a cache value: the records for one provider/date plus the
// highest version they were built from. Stale is set when the entry is
// served past its TTL inside the grace window.
type Snapshot struct {
	Records []Record
	Version int64
	BuiltAt time.Time
	Stale   bool
}

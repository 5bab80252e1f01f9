// Package reconcile merges parsed drafts into the store.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campuseats/menud/internal/menu"
	"github.com/campuseats/menud/internal/metrics"
)

// Result aggregates one batch: counters for the run, the keys whose cache
// entries must be invalidated, and per-draft errors. Errors never abort
// the batch; the caller folds them into the run outcome.
type Result struct {
	Counters menu.RunCounters
	Touched  []menu.Key
	Errs     []error
}

// Reconciler applies insert/update/skip decisions per draft.
type Reconciler struct {
	store     menu.Store
	cache     menu.Cache
	publisher menu.Publisher
	clock     menu.Clock
	logger    *zap.Logger
}

// New constructs a Reconciler. publisher may be nil when change events
// are not configured.
func New(store menu.Store, cache menu.Cache, publisher menu.Publisher, clock menu.Clock, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:     store,
		cache:     cache,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// Reconcile processes each draft independently. A store conflict is
// retried once against a fresh read; a second conflict or any write
// failure counts the draft as failed and moves on.
func (r *Reconciler) Reconcile(ctx context.Context, drafts []menu.Draft) Result {
	var res Result
	for _, draft := range drafts {
		res.Counters.Seen++
		changed, err := r.applyWithRetry(ctx, draft)
		if err != nil {
			res.Counters.Failed++
			res.Errs = append(res.Errs, fmt.Errorf("reconcile %s: %w", draft.Key(), err))
			metrics.ObserveRecord("failed")
			r.logger.Error("draft reconcile failed",
				zap.String("key", draft.Key().String()),
				zap.Error(err),
			)
			continue
		}
		if !changed {
			res.Counters.Skipped++
			metrics.ObserveRecord("skipped")
			continue
		}
		res.Counters.Changed++
		res.Touched = append(res.Touched, draft.Key())
		r.cache.Invalidate(menu.CacheKey(draft.ProviderID, draft.ServingDate))
	}
	return res
}

func (r *Reconciler) applyWithRetry(ctx context.Context, draft menu.Draft) (bool, error) {
	changed, err := r.apply(ctx, draft)
	if errors.Is(err, menu.ErrConflict) {
		// One optimistic retry against a fresh read, then give up and let
		// the next cycle pick the draft up again.
		changed, err = r.apply(ctx, draft)
	}
	return changed, err
}

func (r *Reconciler) apply(ctx context.Context, draft menu.Draft) (bool, error) {
	current, err := r.store.GetCurrent(ctx, draft.Key())
	switch {
	case errors.Is(err, menu.ErrNotFound):
		rec := r.buildRecord(draft, 1)
		if err := r.store.Upsert(ctx, rec, 0); err != nil {
			return false, err
		}
		metrics.ObserveRecord("inserted")
		r.publish(ctx, rec)
		return true, nil
	case err != nil:
		return false, err
	}

	if current.Source == menu.SourceVendor {
		// Vendor submissions own their key; crawled data never supersedes them.
		return false, nil
	}
	if current.ContentHash == draft.ContentHash {
		return false, nil
	}

	rec := r.buildRecord(draft, current.Version+1)
	if err := r.store.Upsert(ctx, rec, current.Version); err != nil {
		return false, err
	}
	metrics.ObserveRecord("updated")
	r.publish(ctx, rec)
	return true, nil
}

func (r *Reconciler) buildRecord(draft menu.Draft, version int64) menu.Record {
	return menu.Record{
		ProviderID:  draft.ProviderID,
		ServingDate: draft.ServingDate,
		Slot:        draft.Slot,
		Items:       draft.Items,
		Source:      menu.SourceCrawled,
		ContentHash: draft.ContentHash,
		Version:     version,
		UpdatedAt:   r.clock.Now(),
	}
}

// publish is fire-and-forget: an event that cannot be delivered is logged
// and the write stands.
func (r *Reconciler) publish(ctx context.Context, rec menu.Record) {
	if r.publisher == nil {
		return
	}
	event := menu.ChangeEvent{
		ProviderID:  rec.ProviderID,
		ServingDate: rec.ServingDate.Format(menu.DateLayout),
		Slot:        rec.Slot,
		Version:     rec.Version,
		ContentHash: rec.ContentHash,
		ChangedAt:   rec.UpdatedAt,
	}
	if _, err := r.publisher.Publish(ctx, event); err != nil {
		r.logger.Warn("change event publish failed",
			zap.String("key", rec.Key().String()),
			zap.Error(err),
		)
	}
}

// Package scheduler owns the crawl cadence and the single-flight guarantee.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/campuseats/menud/internal/menu"
	"github.com/campuseats/menud/internal/metrics"
	"github.com/campuseats/menud/internal/parser"
	"github.com/campuseats/menud/internal/reconcile"
)

// Config controls cadence and cycle bounds.
type Config struct {
	Interval          time.Duration
	RunDeadline       time.Duration
	TargetConcurrency int
	SnapshotPrefix    string
}

// TriggerResult reports what a trigger did. Started is false when the
// trigger coalesced into an already-running cycle.
type TriggerResult struct {
	RunID   string `json:"run_id"`
	Started bool   `json:"started"`
}

// Scheduler drives crawl cycles on a timer and on demand. At most one
// cycle is in flight at any instant, enforced by an atomically-checked
// run token rather than a lock held for the cycle's duration.
type Scheduler struct {
	cfg        Config
	targets    []menu.Target
	fetcher    menu.Fetcher
	parsers    menu.Parser
	reconciler *reconcile.Reconciler
	store      menu.Store
	cache      menu.Cache
	snapshots  menu.SnapshotStore
	clock      menu.Clock
	idGen      menu.IDGenerator
	logger     *zap.Logger

	running atomic.Bool
	mu      sync.Mutex
	current string

	cycleWG sync.WaitGroup
}

// New constructs a Scheduler. snapshots may be nil when raw archiving is
// not configured.
func New(
	cfg Config,
	targets []menu.Target,
	fetcher menu.Fetcher,
	parsers menu.Parser,
	reconciler *reconcile.Reconciler,
	store menu.Store,
	cache menu.Cache,
	snapshots menu.SnapshotStore,
	clock menu.Clock,
	idGen menu.IDGenerator,
	logger *zap.Logger,
) *Scheduler {
	if cfg.TargetConcurrency <= 0 {
		cfg.TargetConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:        cfg,
		targets:    targets,
		fetcher:    fetcher,
		parsers:    parsers,
		reconciler: reconciler,
		store:      store,
		cache:      cache,
		snapshots:  snapshots,
		clock:      clock,
		idGen:      idGen,
		logger:     logger,
	}
}

// Run blocks, firing a cycle every interval until the context finishes.
// Foreground reads never pass through here; a slow cycle only delays the
// next tick, not any caller.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.cycleWG.Wait()
			return
		case <-ticker.C:
			result, err := s.Trigger(ctx, menu.TriggerScheduled)
			if err != nil {
				s.logger.Error("scheduled trigger failed", zap.Error(err))
				continue
			}
			if !result.Started {
				s.logger.Info("scheduled cycle skipped, previous run still in flight",
					zap.String("run_id", result.RunID))
			}
		}
	}
}

// Trigger starts a cycle if none is running. When a run is already in
// flight the trigger coalesces: no second run is created and the caller
// gets the in-flight run's identity.
func (s *Scheduler) Trigger(ctx context.Context, trigger menu.RunTrigger) (TriggerResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		id := s.current
		s.mu.Unlock()
		return TriggerResult{RunID: id, Started: false}, nil
	}

	id, err := s.idGen.NewID()
	if err != nil {
		s.running.Store(false)
		return TriggerResult{}, fmt.Errorf("generate run id: %w", err)
	}
	run := menu.CrawlRun{
		ID:        id,
		Trigger:   trigger,
		StartedAt: s.clock.Now(),
		Outcome:   menu.RunRunning,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.running.Store(false)
		return TriggerResult{}, fmt.Errorf("create run: %w", err)
	}

	s.mu.Lock()
	s.current = id
	s.mu.Unlock()

	s.cycleWG.Add(1)
	go func() {
		defer s.cycleWG.Done()
		defer s.running.Store(false)
		s.runCycle(run)
	}()
	return TriggerResult{RunID: id, Started: true}, nil
}

// Wait blocks until any in-flight cycle finishes. Used on shutdown and
// in tests; triggers are not accepted through it.
func (s *Scheduler) Wait() {
	s.cycleWG.Wait()
}

type targetResult struct {
	name     string
	counters menu.RunCounters
	touched  []menu.Key
	errs     []error
	failed   bool
}

// runCycle executes one crawl cycle under the run deadline. The cycle is
// detached from the trigger's context so an HTTP caller hanging up does
// not abort a half-done crawl.
func (s *Scheduler) runCycle(run menu.CrawlRun) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if s.cfg.RunDeadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunDeadline)
		defer cancel()
	}

	start := s.clock.Now()
	results := make([]targetResult, len(s.targets))
	sem := make(chan struct{}, s.cfg.TargetConcurrency)
	var wg sync.WaitGroup
	for i, target := range s.targets {
		wg.Add(1)
		go func(i int, target menu.Target) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = targetResult{
					name:   target.Name,
					failed: true,
					errs:   []error{fmt.Errorf("target %s: %w", target.Name, ctx.Err())},
				}
				return
			}
			results[i] = s.processTarget(ctx, run.ID, target)
		}(i, target)
	}
	wg.Wait()

	run = s.finalize(ctx, run, results, s.clock.Now().Sub(start))

	// Belt and suspenders: the reconciler invalidated per record, but a
	// cycle-level sweep covers any write that raced an in-flight read.
	for _, res := range results {
		for _, key := range res.touched {
			s.cache.Invalidate(menu.CacheKey(key.ProviderID, key.ServingDate))
		}
	}
}

func (s *Scheduler) processTarget(ctx context.Context, runID string, target menu.Target) targetResult {
	res := targetResult{name: target.Name}

	fetched, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		metrics.ObserveFetch(target.Name, "unavailable")
		res.failed = true
		res.errs = append(res.errs, fmt.Errorf("target %s: %w", target.Name, err))
		s.logger.Warn("target fetch failed",
			zap.String("run_id", runID),
			zap.String("target", target.Name),
			zap.Error(err),
		)
		return res
	}
	metrics.ObserveFetch(target.Name, "ok")
	s.archive(ctx, runID, target, fetched)

	out, err := s.parsers.Parse(fetched, target)
	if err != nil {
		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			s.logger.Error("target document unrecognized",
				zap.String("run_id", runID),
				zap.String("target", target.Name),
				zap.String("section", parseErr.Section),
				zap.String("reason", parseErr.Reason),
			)
		}
		res.failed = true
		res.errs = append(res.errs, fmt.Errorf("target %s: %w", target.Name, err))
		return res
	}
	for _, drop := range out.Dropped {
		s.logger.Warn("record dropped during parse",
			zap.String("run_id", runID),
			zap.String("target", target.Name),
			zap.String("section", drop.Section),
			zap.String("reason", drop.Reason),
		)
	}
	metrics.ObserveParseDrops(target.Name, len(out.Dropped))

	recRes := s.reconciler.Reconcile(ctx, out.Drafts)
	res.counters = recRes.Counters
	res.touched = recRes.Touched
	res.errs = append(res.errs, recRes.Errs...)
	return res
}

// archive stores the raw fetched document for post-hoc parser debugging.
// Failures are logged and swallowed; archiving never fails a target.
func (s *Scheduler) archive(ctx context.Context, runID string, target menu.Target, fetched menu.FetchResult) {
	if s.snapshots == nil {
		return
	}
	ext := "html"
	if target.Kind == menu.TargetFeed {
		ext = "json"
	}
	prefix := strings.Trim(s.cfg.SnapshotPrefix, "/")
	path := fmt.Sprintf("%s/%s.%s", runID, target.Name, ext)
	if prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := s.snapshots.PutObject(ctx, path, fetched.ContentType, fetched.Body)
	if err != nil {
		s.logger.Warn("raw snapshot archive failed",
			zap.String("run_id", runID),
			zap.String("target", target.Name),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("raw snapshot archived",
		zap.String("run_id", runID),
		zap.String("target", target.Name),
		zap.String("uri", uri),
	)
}

// finalize aggregates per-target outcomes and persists the run's terminal
// state. Failure only when every target failed; record-level errors make
// the run partial, never failed.
func (s *Scheduler) finalize(ctx context.Context, run menu.CrawlRun, results []targetResult, elapsed time.Duration) menu.CrawlRun {
	var (
		counters      menu.RunCounters
		errorDetails  []string
		failedTargets int
	)
	for _, res := range results {
		counters.Add(res.counters)
		if res.failed {
			failedTargets++
		}
		for _, err := range res.errs {
			errorDetails = append(errorDetails, err.Error())
		}
	}
	sort.Strings(errorDetails)

	outcome := menu.RunSuccess
	switch {
	case len(results) > 0 && failedTargets == len(results):
		outcome = menu.RunFailure
	case failedTargets > 0 || counters.Failed > 0:
		outcome = menu.RunPartial
	}

	now := s.clock.Now()
	run.FinishedAt = &now
	run.Outcome = outcome
	run.Counters = counters
	run.ErrorDetail = strings.Join(errorDetails, "; ")

	// Finalize with a fresh context: the run row must record its terminal
	// state even when the cycle deadline has already fired.
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.FinalizeRun(finalizeCtx, run); err != nil {
		s.logger.Error("run finalize failed", zap.String("run_id", run.ID), zap.Error(err))
	}

	metrics.ObserveCrawlRun(string(run.Trigger), string(outcome), elapsed)
	s.logger.Info("crawl cycle finished",
		zap.String("run_id", run.ID),
		zap.String("outcome", string(outcome)),
		zap.Int("records_seen", counters.Seen),
		zap.Int("records_changed", counters.Changed),
		zap.Int("records_skipped", counters.Skipped),
		zap.Int("records_failed", counters.Failed),
		zap.Duration("elapsed", elapsed),
	)
	return run
}

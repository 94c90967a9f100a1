// Package scheduler runs the periodic fetch -> dedup -> summarize -> publish
// cycle. At most one cycle runs at a time; an overrunning cycle delays the
// next tick rather than overlapping it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avoronin/newsdigest/internal/dedup"
	"github.com/avoronin/newsdigest/internal/store"
	"github.com/avoronin/newsdigest/pkg/publish"
	"github.com/avoronin/newsdigest/pkg/retry"
	"github.com/avoronin/newsdigest/pkg/source"
	"github.com/avoronin/newsdigest/pkg/summarize"
)

// ErrStoreUnavailable means the item store stopped answering. Without durable
// state the no-duplicate-publish guarantee cannot be upheld, so the run loop
// exits instead of limping on.
var ErrStoreUnavailable = errors.New("item store unavailable")

// Config holds the scheduler's timing and retry parameters.
type Config struct {
	Interval       time.Duration
	SourceTimeout  time.Duration
	FetchWorkers   int
	SummarizeRetry retry.Policy
	PublishRetry   retry.Policy
}

// Status is a point-in-time view of the scheduler for the control surfaces.
type Status struct {
	Paused       bool         `json:"paused"`
	CycleRunning bool         `json:"cycle_running"`
	Interval     string       `json:"interval"`
	LastCycle    *store.Cycle `json:"last_cycle,omitempty"`
}

// Scheduler owns the pipeline loop.
type Scheduler struct {
	store     store.Store
	sources   []source.Source
	dedup     *dedup.Deduplicator
	digester  *summarize.Digester
	publisher publish.Publisher
	mirror    publish.Publisher // optional, best effort
	cfg       Config
	log       *logrus.Logger

	mu        sync.Mutex // held for the duration of one cycle
	running   atomic.Bool
	paused    atomic.Bool
	trigger   chan struct{}
	lastMu    sync.Mutex
	lastCycle *store.Cycle
}

// New creates a Scheduler. mirror may be nil.
func New(
	s store.Store,
	sources []source.Source,
	digester *summarize.Digester,
	publisher publish.Publisher,
	mirror publish.Publisher,
	cfg Config,
	log *logrus.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 2 * time.Minute
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 4
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		store:     s,
		sources:   sources,
		dedup:     dedup.New(s),
		digester:  digester,
		publisher: publisher,
		mirror:    mirror,
		cfg:       cfg,
		log:       log,
		// One pending manual trigger is enough; extra requests coalesce.
		trigger: make(chan struct{}, 1),
	}
}

// Run blocks until ctx is cancelled. The first cycle starts immediately after
// crash recovery.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.reconcile(ctx); err != nil {
		s.log.WithError(err).Warn("startup recovery incomplete")
	}

	s.log.WithField("interval", s.cfg.Interval.String()).Info("scheduler running")
	if err := s.runCycle(ctx, "startup"); errors.Is(err, ErrStoreUnavailable) {
		return err
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx, "tick"); errors.Is(err, ErrStoreUnavailable) {
				return err
			}
		case <-s.trigger:
			if err := s.runCycle(ctx, "manual"); errors.Is(err, ErrStoreUnavailable) {
				return err
			}
		}
	}
}

// RunOnce executes a single cycle and returns. Used by the one-shot CLI mode.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := s.reconcile(ctx); err != nil {
		s.log.WithError(err).Warn("recovery incomplete")
	}
	return s.runCycle(ctx, "once")
}

// TriggerNow requests an immediate cycle. A trigger during an in-flight cycle
// is queued and runs after it finishes; returns false only when a trigger is
// already pending, which coalesces with this one.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Pause makes subsequent ticks no-ops until Resume.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume re-enables ticks.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Paused reports whether ticks are currently skipped.
func (s *Scheduler) Paused() bool { return s.paused.Load() }

// Status returns the current scheduler state.
func (s *Scheduler) Status() Status {
	s.lastMu.Lock()
	last := s.lastCycle
	s.lastMu.Unlock()
	return Status{
		Paused:       s.paused.Load(),
		CycleRunning: s.running.Load(),
		Interval:     s.cfg.Interval.String(),
		LastCycle:    last,
	}
}

// reconcile finishes work interrupted by a crash: SUMMARIZED items still carry
// their digest text, so they are re-published without another model call.
// NEW items need no special handling; the next cycle picks them up.
func (s *Scheduler) reconcile(ctx context.Context) error {
	pending, err := s.store.ListByState(ctx, store.StateSummarized)
	if err != nil {
		return fmt.Errorf("list summarized: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	s.log.WithField("items", len(pending)).Info("re-publishing interrupted digests")

	// Items summarized together share the digest text; regroup so each digest
	// is sent once.
	var groups [][]store.Item
	index := make(map[string]int)
	for _, item := range pending {
		i, ok := index[item.Summary]
		if !ok {
			i = len(groups)
			index[item.Summary] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}

	var lastErr error
	for _, group := range groups {
		if err := s.publishGroup(ctx, group[0].Summary, group); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (s *Scheduler) runCycle(ctx context.Context, reason string) error {
	if s.paused.Load() {
		s.log.WithField("reason", reason).Debug("cycle skipped: paused")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.running.Store(true)
	defer s.running.Store(false)

	started := time.Now().UTC()
	log := s.log.WithField("reason", reason)
	log.Info("cycle started")

	// Digests left over from a publish failure earlier in this run go first,
	// so ordering toward the channel stays roughly chronological.
	if err := s.reconcile(ctx); err != nil {
		log.WithError(err).Warn("pending digests not cleared")
	}

	candidates, fetchOK, fetchErrs := s.fetchAll(ctx)

	var storeErr error
	fresh, err := s.dedup.FilterNew(ctx, candidates)
	if err != nil {
		storeErr = err
		log.WithError(err).Error("dedup failed")
	}

	// The batch is everything in NEW, which folds items carried over from
	// earlier failed cycles into this one.
	batch, lerr := s.store.ListByState(ctx, store.StateNew)
	if lerr != nil {
		storeErr = lerr
		log.WithError(lerr).Error("list new items failed")
	}

	posted, pipelineErrs := s.processBatch(ctx, batch)

	outcome := store.OutcomeOK
	if fetchErrs > 0 || pipelineErrs > 0 || storeErr != nil {
		outcome = store.OutcomeFailed
		if posted > 0 || fetchOK > 0 {
			outcome = store.OutcomePartial
		}
	}

	cycle := &store.Cycle{
		StartedAt:       started,
		FinishedAt:      time.Now().UTC(),
		Outcome:         outcome,
		ItemsConsidered: len(batch),
		ItemsPosted:     posted,
		Note: fmt.Sprintf("sources %d/%d ok, %d fresh, %d pipeline errors",
			fetchOK, len(s.sources), len(fresh), pipelineErrs),
	}
	if err := s.store.RecordCycle(ctx, cycle); err != nil {
		log.WithError(err).Error("record cycle failed")
	}

	s.lastMu.Lock()
	s.lastCycle = cycle
	s.lastMu.Unlock()

	log.WithFields(logrus.Fields{
		"outcome":    outcome,
		"considered": len(batch),
		"posted":     posted,
		"duration":   cycle.FinishedAt.Sub(started).String(),
	}).Info("cycle finished")

	if storeErr != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, storeErr)
	}
	if outcome != store.OutcomeOK {
		return fmt.Errorf("cycle %s: %s", outcome, cycle.Note)
	}
	return nil
}

// fetchAll runs source fetches through a bounded worker pool, each under its
// own timeout so one stuck source cannot stall the cycle.
func (s *Scheduler) fetchAll(ctx context.Context) (all []source.RawItem, okCount, errCount int) {
	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		jobs = make(chan source.Source)
	)

	for i := 0; i < s.cfg.FetchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				fctx, cancel := context.WithTimeout(ctx, s.cfg.SourceTimeout)
				items, err := src.Fetch(fctx)
				cancel()

				mu.Lock()
				if err != nil {
					errCount++
					s.log.WithFields(logrus.Fields{
						"source": src.Name(),
					}).WithError(err).Warn("fetch failed")
				} else {
					okCount++
					all = append(all, items...)
					s.log.WithFields(logrus.Fields{
						"source": src.Name(),
						"items":  len(items),
					}).Debug("fetched")
				}
				mu.Unlock()
			}
		}()
	}

	for _, src := range s.sources {
		jobs <- src
	}
	close(jobs)
	wg.Wait()
	return all, okCount, errCount
}

// processBatch summarizes and publishes the NEW items, split into batches that
// fit the model and message budgets. Returns items posted and error count.
func (s *Scheduler) processBatch(ctx context.Context, batch []store.Item) (posted, errCount int) {
	if len(batch) == 0 {
		return 0, 0
	}

	for _, group := range s.digester.Split(batch) {
		var digest string
		err := s.cfg.SummarizeRetry.Do(ctx, "summarize", func(ctx context.Context) error {
			var serr error
			digest, serr = s.digester.Summarize(ctx, group)
			return serr
		})
		if err != nil {
			errCount++
			if retry.IsPermanent(err) {
				// The model rejected this input; retrying next cycle cannot help.
				s.log.WithError(err).Error("summarize failed permanently")
				s.failGroup(ctx, group)
			} else {
				// Items stay NEW and are retried wholesale next cycle.
				s.log.WithError(err).Warn("summarize attempts exhausted")
			}
			continue
		}

		summarized := group[:0:0]
		for _, item := range group {
			if err := s.store.MarkSummarized(ctx, item.Source, item.ItemKey, digest); err != nil {
				s.log.WithFields(logrus.Fields{
					"source": item.Source, "key": item.ItemKey,
				}).WithError(err).Error("mark summarized failed")
				errCount++
				continue
			}
			summarized = append(summarized, item)
		}

		if err := s.publishGroup(ctx, digest, summarized); err != nil {
			errCount++
			continue
		}
		posted += len(summarized)
	}
	return posted, errCount
}

// publishGroup delivers one digest and marks its items POSTED. Items stay
// SUMMARIZED on transient failure so the digest is re-sent later without a
// second model call; the duplicate-post window between a successful send and
// the POSTED write is accepted.
func (s *Scheduler) publishGroup(ctx context.Context, digest string, group []store.Item) error {
	if len(group) == 0 {
		return nil
	}
	err := s.cfg.PublishRetry.Do(ctx, "publish "+s.publisher.Name(), func(ctx context.Context) error {
		return s.publisher.Send(ctx, digest)
	})
	if err != nil {
		if retry.IsPermanent(err) {
			s.log.WithError(err).Error("publish failed permanently")
			s.failGroup(ctx, group)
		} else {
			s.log.WithError(err).Warn("publish attempts exhausted")
		}
		return err
	}

	for _, item := range group {
		if err := s.store.Mark(ctx, item.Source, item.ItemKey, store.StatePosted); err != nil {
			s.log.WithFields(logrus.Fields{
				"source": item.Source, "key": item.ItemKey,
			}).WithError(err).Error("mark posted failed")
		}
	}

	if s.mirror != nil {
		if err := s.mirror.Send(ctx, digest); err != nil {
			s.log.WithError(err).Warn("mirror delivery failed")
		}
	}
	return nil
}

func (s *Scheduler) failGroup(ctx context.Context, group []store.Item) {
	for _, item := range group {
		if err := s.store.Mark(ctx, item.Source, item.ItemKey, store.StateFailed); err != nil {
			s.log.WithFields(logrus.Fields{
				"source": item.Source, "key": item.ItemKey,
			}).WithError(err).Error("mark FAILED failed")
		}
	}
}

package scheduler

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avoronin/newsdigest/internal/store"
	"github.com/avoronin/newsdigest/pkg/publish"
	"github.com/avoronin/newsdigest/pkg/retry"
	"github.com/avoronin/newsdigest/pkg/source"
	"github.com/avoronin/newsdigest/pkg/summarize"
)

type fakeSource struct {
	mu    sync.Mutex
	items []source.RawItem
	err   error
	calls int
}

func (f *fakeSource) Name() source.Type { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context) ([]source.RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.items, f.err
}

func (f *fakeSource) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCompleter struct {
	calls     int
	failures  int // transient failures before succeeding
	permanent bool
}

func (f *fakeCompleter) Name() string { return "fake-llm" }

func (f *fakeCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	if f.permanent {
		return "", retry.Permanent(errors.New("model rejected input"))
	}
	if f.calls <= f.failures {
		return "", errors.New("upstream timeout")
	}
	return "digest text", nil
}

type fakePublisher struct {
	calls     int
	failures  int
	permanent bool
	sent      []string
}

func (f *fakePublisher) Name() string { return "fake-channel" }

func (f *fakePublisher) Send(ctx context.Context, text string) error {
	f.calls++
	if f.permanent {
		return retry.Permanent(errors.New("bot banned from channel"))
	}
	if f.calls <= f.failures {
		return errors.New("gateway unavailable")
	}
	f.sent = append(f.sent, text)
	return nil
}

func testItems(keys ...string) []source.RawItem {
	var items []source.RawItem
	for _, k := range keys {
		items = append(items, source.RawItem{
			Source: "fake",
			Key:    k,
			Title:  "title " + k,
			URL:    "https://example.com/" + k,
		})
	}
	return items
}

func newTestScheduler(t *testing.T, st store.Store, src source.Source, comp summarize.Completer, pub publish.Publisher) *Scheduler {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	fastRetry := retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	cfg := Config{
		Interval:       time.Hour,
		SourceTimeout:  5 * time.Second,
		FetchWorkers:   2,
		SummarizeRetry: fastRetry,
		PublishRetry:   fastRetry,
	}

	var sources []source.Source
	if src != nil {
		sources = []source.Source{src}
	}
	return New(st, sources, summarize.NewDigester(comp, 12, 8000), pub, nil, cfg, log)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func stateOf(t *testing.T, st store.Store, key string) store.State {
	t.Helper()
	item, err := st.GetItem(context.Background(), "fake", key)
	if err != nil {
		t.Fatalf("get item %s: %v", key, err)
	}
	return item.State
}

func TestCycleEndToEnd(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{items: testItems("a", "b")}
	comp := &fakeCompleter{}
	pub := &fakePublisher{}
	s := newTestScheduler(t, st, src, comp, pub)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if comp.calls != 1 || pub.calls != 1 {
		t.Fatalf("completer=%d publisher=%d, want 1 each", comp.calls, pub.calls)
	}
	if stateOf(t, st, "a") != store.StatePosted || stateOf(t, st, "b") != store.StatePosted {
		t.Fatal("items should be POSTED")
	}

	cycles, err := st.ListCycles(context.Background(), 1)
	if err != nil || len(cycles) != 1 {
		t.Fatalf("cycles: %v %v", cycles, err)
	}
	c := cycles[0]
	if c.Outcome != store.OutcomeOK || c.ItemsConsidered != 2 || c.ItemsPosted != 2 {
		t.Fatalf("cycle record = %+v", c)
	}
}

func TestNoopCycleMakesNoExternalCalls(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{} // nothing to report
	comp := &fakeCompleter{}
	pub := &fakePublisher{}
	s := newTestScheduler(t, st, src, comp, pub)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if comp.calls != 0 || pub.calls != 0 {
		t.Fatalf("completer=%d publisher=%d, want 0 each", comp.calls, pub.calls)
	}
	cycles, _ := st.ListCycles(context.Background(), 1)
	if len(cycles) != 1 || cycles[0].Outcome != store.OutcomeOK {
		t.Fatalf("cycles = %+v", cycles)
	}
}

func TestRepeatedItemsNotReprocessed(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{items: testItems("a", "b")}
	comp := &fakeCompleter{}
	pub := &fakePublisher{}
	s := newTestScheduler(t, st, src, comp, pub)

	ctx := context.Background()
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	// The second cycle sees the same items, dedups them all, and stays quiet.
	if comp.calls != 1 || pub.calls != 1 {
		t.Fatalf("completer=%d publisher=%d, want 1 each", comp.calls, pub.calls)
	}
}

func TestTransientSummarizeFailureRecovers(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{items: testItems("a")}
	comp := &fakeCompleter{failures: 1}
	pub := &fakePublisher{}
	s := newTestScheduler(t, st, src, comp, pub)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if comp.calls != 2 {
		t.Fatalf("completer calls = %d, want 2", comp.calls)
	}
	if pub.calls != 1 {
		t.Fatalf("publisher calls = %d, want exactly 1", pub.calls)
	}
	if stateOf(t, st, "a") != store.StatePosted {
		t.Fatal("item should be POSTED")
	}
}

func TestSummarizeExhaustedLeavesItemsNew(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{items: testItems("a", "b")}
	comp := &fakeCompleter{failures: 99}
	pub := &fakePublisher{}
	s := newTestScheduler(t, st, src, comp, pub)

	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected cycle error")
	}

	if pub.calls != 0 {
		t.Fatalf("publisher calls = %d, want 0", pub.calls)
	}
	if stateOf(t, st, "a") != store.StateNew || stateOf(t, st, "b") != store.StateNew {
		t.Fatal("items should stay NEW for the next cycle")
	}
	cycles, _ := st.ListCycles(context.Background(), 1)
	if len(cycles) != 1 || cycles[0].ItemsPosted != 0 {
		t.Fatalf("cycles = %+v", cycles)
	}
}

func TestPermanentSummarizeFailureMarksFailed(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{items: testItems("a")}
	comp := &fakeCompleter{permanent: true}
	pub := &fakePublisher{}
	s := newTestScheduler(t, st, src, comp, pub)

	_ = s.RunOnce(context.Background())

	if comp.calls != 1 {
		t.Fatalf("completer calls = %d, want 1 (no retry on permanent)", comp.calls)
	}
	if stateOf(t, st, "a") != store.StateFailed {
		t.Fatal("item should be FAILED")
	}
}

func TestPublishFailureThenRecovery(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{items: testItems("a")}
	comp := &fakeCompleter{}
	broken := &fakePublisher{failures: 99}
	s := newTestScheduler(t, st, src, comp, broken)

	ctx := context.Background()
	if err := s.RunOnce(ctx); err == nil {
		t.Fatal("expected cycle error")
	}

	// Digest text survived the crash window on the item row.
	item, err := st.GetItem(ctx, "fake", "a")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.State != store.StateSummarized || item.Summary == "" {
		t.Fatalf("item = %+v, want SUMMARIZED with summary", item)
	}

	// A later run re-publishes from the stored digest, no second model call.
	working := &fakePublisher{}
	s2 := newTestScheduler(t, st, src, comp, working)
	if err := s2.RunOnce(ctx); err != nil {
		t.Fatalf("recovery cycle: %v", err)
	}

	if comp.calls != 1 {
		t.Fatalf("completer calls = %d, want 1", comp.calls)
	}
	if len(working.sent) != 1 || !strings.Contains(working.sent[0], "digest text") {
		t.Fatalf("sent = %q", working.sent)
	}
	if stateOf(t, st, "a") != store.StatePosted {
		t.Fatal("item should be POSTED after recovery")
	}
}

func TestPauseSkipsCycles(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{items: testItems("a")}
	s := newTestScheduler(t, st, src, &fakeCompleter{}, &fakePublisher{})

	s.Pause()
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("paused cycle: %v", err)
	}
	if src.fetchCalls() != 0 {
		t.Fatalf("fetch calls = %d, want 0 while paused", src.fetchCalls())
	}

	s.Resume()
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("resumed cycle: %v", err)
	}
	if src.fetchCalls() != 1 {
		t.Fatalf("fetch calls = %d, want 1 after resume", src.fetchCalls())
	}
}

func TestTriggerCoalesces(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, st, nil, &fakeCompleter{}, &fakePublisher{})

	if !s.TriggerNow() {
		t.Fatal("first trigger should be accepted")
	}
	if s.TriggerNow() {
		t.Fatal("second trigger should coalesce into the pending one")
	}
}

func TestTriggerQueuesDuringInFlightCycle(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, st, nil, &fakeCompleter{}, &fakePublisher{})

	s.running.Store(true)
	if !s.TriggerNow() {
		t.Fatal("trigger during a cycle must queue, not drop")
	}
	if s.TriggerNow() {
		t.Fatal("extra triggers coalesce into the pending one")
	}

	// The queued trigger is delivered once the cycle finishes.
	select {
	case <-s.trigger:
	default:
		t.Fatal("queued trigger should be pending")
	}
}

func TestStatusReflectsLastCycle(t *testing.T) {
	st := newTestStore(t)
	src := &fakeSource{items: testItems("a")}
	s := newTestScheduler(t, st, src, &fakeCompleter{}, &fakePublisher{})

	if got := s.Status(); got.LastCycle != nil || got.Paused {
		t.Fatalf("initial status = %+v", got)
	}

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	got := s.Status()
	if got.LastCycle == nil || got.LastCycle.Outcome != store.OutcomeOK {
		t.Fatalf("status = %+v", got)
	}
}

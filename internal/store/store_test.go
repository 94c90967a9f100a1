package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testItem(key string) *Item {
	return &Item{
		Source:  "rss",
		ItemKey: key,
		Title:   "Title for " + key,
		URL:     "https://example.com/" + key,
	}
}

func TestInsertNewRejectsDuplicateIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertNew(ctx, testItem("a")); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := s.InsertNew(ctx, testItem("a"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second insert: got %v, want ErrAlreadyExists", err)
	}

	seen, err := s.HasSeen(ctx, "rss", "a")
	if err != nil || !seen {
		t.Fatalf("HasSeen = %v, %v", seen, err)
	}

	// Same key under another source is a distinct identity.
	other := testItem("a")
	other.Source = "website"
	if err := s.InsertNew(ctx, other); err != nil {
		t.Fatalf("insert other source: %v", err)
	}
}

func TestConcurrentInsertExactlyOneWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.InsertNew(ctx, testItem("race"))
		}()
	}
	wg.Wait()
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyExists):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != workers-1 {
		t.Fatalf("ok=%d dup=%d, want 1/%d", ok, dup, workers-1)
	}
}

func TestMarkMonotonicTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertNew(ctx, testItem("m")); err != nil {
		t.Fatal(err)
	}

	// POSTED without passing through SUMMARIZED is illegal.
	err := s.Mark(ctx, "rss", "m", StatePosted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("NEW->POSTED: got %v, want ErrInvalidTransition", err)
	}

	if err := s.MarkSummarized(ctx, "rss", "m", "digest text"); err != nil {
		t.Fatalf("NEW->SUMMARIZED: %v", err)
	}
	if err := s.Mark(ctx, "rss", "m", StatePosted); err != nil {
		t.Fatalf("SUMMARIZED->POSTED: %v", err)
	}

	// Backward and out-of-POSTED transitions are rejected.
	for _, to := range []State{StateNew, StateSummarized, StateFailed} {
		if err := s.Mark(ctx, "rss", "m", to); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("POSTED->%s: got %v, want ErrInvalidTransition", to, err)
		}
	}

	item, err := s.GetItem(ctx, "rss", "m")
	if err != nil {
		t.Fatal(err)
	}
	if item.State != StatePosted {
		t.Fatalf("state = %s, want POSTED", item.State)
	}
	if item.Summary != "digest text" {
		t.Fatalf("summary = %q", item.Summary)
	}
	if !item.PostedAt.Valid {
		t.Fatal("posted_at not set")
	}
}

func TestMarkFailedIncrementsAttempts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.InsertNew(ctx, testItem("f")); err != nil {
		t.Fatal(err)
	}
	if err := s.Mark(ctx, "rss", "f", StateFailed); err != nil {
		t.Fatalf("NEW->FAILED: %v", err)
	}

	item, err := s.GetItem(ctx, "rss", "f")
	if err != nil {
		t.Fatal(err)
	}
	if item.State != StateFailed || item.Attempts != 1 {
		t.Fatalf("state=%s attempts=%d", item.State, item.Attempts)
	}

	// FAILED is terminal.
	if err := s.Mark(ctx, "rss", "f", StateSummarized); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("FAILED->SUMMARIZED: got %v", err)
	}
}

func TestMarkUnknownItem(t *testing.T) {
	s := newTestStore(t)
	err := s.Mark(context.Background(), "rss", "missing", StateSummarized)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListByStatePreservesInsertOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"one", "two", "three"} {
		if err := s.InsertNew(ctx, testItem(key)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkSummarized(ctx, "rss", "two", "sum"); err != nil {
		t.Fatal(err)
	}

	items, err := s.ListByState(ctx, StateNew)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d NEW items, want 2", len(items))
	}
	if items[0].ItemKey != "one" || items[1].ItemKey != "three" {
		t.Fatalf("order: %s, %s", items[0].ItemKey, items[1].ItemKey)
	}

	counts, err := s.CountByState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[StateNew] != 2 || counts[StateSummarized] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestCycleRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &Cycle{Outcome: OutcomeOK, ItemsConsidered: 3, ItemsPosted: 3}
	if err := s.RecordCycle(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := &Cycle{Outcome: OutcomePartial, ItemsConsidered: 5, ItemsPosted: 2, Note: "rss fetch failed"}
	if err := s.RecordCycle(ctx, second); err != nil {
		t.Fatal(err)
	}

	cycles, err := s.ListCycles(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) != 2 {
		t.Fatalf("got %d cycles", len(cycles))
	}
	if cycles[0].ID != second.ID {
		t.Fatalf("newest first: got id %d", cycles[0].ID)
	}
	if cycles[0].Note != "rss fetch failed" {
		t.Fatalf("note = %q", cycles[0].Note)
	}
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := newTestStore(t)

	var mode string
	if err := s.db.Get(&mode, "PRAGMA journal_mode"); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}

	var timeout int
	if err := s.db.Get(&timeout, "PRAGMA busy_timeout"); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if timeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", timeout)
	}
}

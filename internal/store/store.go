package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// State is an item's position in the processing lifecycle. Transitions only
// move forward: NEW -> SUMMARIZED -> POSTED, with FAILED reachable from NEW
// or SUMMARIZED. POSTED and FAILED are terminal.
type State string

const (
	StateNew        State = "NEW"
	StateSummarized State = "SUMMARIZED"
	StatePosted     State = "POSTED"
	StateFailed     State = "FAILED"
)

var (
	// ErrAlreadyExists is returned by InsertNew when the (source, item_key)
	// identity is already in the store, including when a concurrent insert won.
	ErrAlreadyExists = errors.New("item already exists")
	// ErrNotFound is returned when no row matches the identity.
	ErrNotFound = errors.New("item not found")
	// ErrInvalidTransition is returned by Mark for backward or otherwise
	// illegal state transitions.
	ErrInvalidTransition = errors.New("invalid state transition")
)

func transitionAllowed(from, to State) bool {
	switch from {
	case StateNew:
		return to == StateSummarized || to == StateFailed
	case StateSummarized:
		return to == StatePosted || to == StateFailed
	default:
		return false
	}
}

// Item is one candidate news entry and its processing state.
type Item struct {
	ID        int64        `db:"id"`
	Source    string       `db:"source"`
	ItemKey   string       `db:"item_key"`
	Title     string       `db:"title"`
	URL       string       `db:"url"`
	Excerpt   string       `db:"excerpt"`
	Author    string       `db:"author"`
	State     State        `db:"state"`
	Attempts  int          `db:"attempts"`
	Summary   string       `db:"summary"`
	FetchedAt time.Time    `db:"fetched_at"`
	PostedAt  sql.NullTime `db:"posted_at"`
}

// Cycle is one append-only scheduler tick record.
type Cycle struct {
	ID              int64     `db:"id" json:"id"`
	StartedAt       time.Time `db:"started_at" json:"started_at"`
	FinishedAt      time.Time `db:"finished_at" json:"finished_at"`
	Outcome         string    `db:"outcome" json:"outcome"`
	ItemsConsidered int       `db:"items_considered" json:"items_considered"`
	ItemsPosted     int       `db:"items_posted" json:"items_posted"`
	Note            string    `db:"note" json:"note"`
}

// Cycle outcomes.
const (
	OutcomeOK      = "OK"
	OutcomePartial = "PARTIAL"
	OutcomeFailed  = "FAILED"
)

// Store is the persistence interface. It is the sole synchronization point
// between cycles; every write is durable before the call returns.
type Store interface {
	HasSeen(ctx context.Context, source, itemKey string) (bool, error)
	InsertNew(ctx context.Context, item *Item) error
	Mark(ctx context.Context, source, itemKey string, newState State) error
	MarkSummarized(ctx context.Context, source, itemKey, summary string) error
	GetItem(ctx context.Context, source, itemKey string) (*Item, error)
	ListByState(ctx context.Context, state State) ([]Item, error)
	ListItems(ctx context.Context, limit int) ([]Item, error)
	CountByState(ctx context.Context) (map[State]int, error)

	RecordCycle(ctx context.Context, c *Cycle) error
	ListCycles(ctx context.Context, limit int) ([]Cycle, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite serializes writers; a single connection keeps the
	// compare-and-insert dedup races on the database side deterministic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) HasSeen(ctx context.Context, source, itemKey string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM items WHERE source = ? AND item_key = ?", source, itemKey)
	if err != nil {
		return false, fmt.Errorf("has seen %s/%s: %w", source, itemKey, err)
	}
	return n > 0, nil
}

// InsertNew atomically inserts an item in state NEW. Exactly one of two
// concurrent inserts of the same identity succeeds; the loser gets
// ErrAlreadyExists.
func (s *SQLiteStore) InsertNew(ctx context.Context, item *Item) error {
	if item.State == "" {
		item.State = StateNew
	}
	if item.FetchedAt.IsZero() {
		item.FetchedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO items (source, item_key, title, url, excerpt, author, state, attempts, summary, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?)
		ON CONFLICT(source, item_key) DO NOTHING
	`, item.Source, item.ItemKey, item.Title, item.URL, item.Excerpt,
		item.Author, item.State, item.FetchedAt)
	if err != nil {
		return fmt.Errorf("insert item %s/%s: %w", item.Source, item.ItemKey, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert item %s/%s: %w", item.Source, item.ItemKey, err)
	}
	if affected == 0 {
		return fmt.Errorf("insert item %s/%s: %w", item.Source, item.ItemKey, ErrAlreadyExists)
	}

	item.ID, _ = res.LastInsertId()
	return nil
}

// Mark moves an item to newState, enforcing forward-only transitions.
func (s *SQLiteStore) Mark(ctx context.Context, source, itemKey string, newState State) error {
	return s.mark(ctx, source, itemKey, newState, nil)
}

// MarkSummarized transitions to SUMMARIZED and persists the batch summary in
// the same durable write, so an interrupted cycle can re-publish without a
// second LLM call.
func (s *SQLiteStore) MarkSummarized(ctx context.Context, source, itemKey, summary string) error {
	return s.mark(ctx, source, itemKey, StateSummarized, &summary)
}

func (s *SQLiteStore) mark(ctx context.Context, source, itemKey string, newState State, summary *string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark %s/%s: %w", source, itemKey, err)
	}
	defer tx.Rollback()

	var current State
	err = tx.GetContext(ctx, &current,
		"SELECT state FROM items WHERE source = ? AND item_key = ?", source, itemKey)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("mark %s/%s: %w", source, itemKey, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("mark %s/%s: %w", source, itemKey, err)
	}

	if !transitionAllowed(current, newState) {
		return fmt.Errorf("mark %s/%s %s -> %s: %w",
			source, itemKey, current, newState, ErrInvalidTransition)
	}

	query := "UPDATE items SET state = ?"
	args := []any{newState}
	if summary != nil {
		query += ", summary = ?"
		args = append(args, *summary)
	}
	if newState == StatePosted {
		query += ", posted_at = ?"
		args = append(args, time.Now().UTC())
	}
	if newState == StateFailed {
		query += ", attempts = attempts + 1"
	}
	query += " WHERE source = ? AND item_key = ? AND state = ?"
	args = append(args, source, itemKey, current)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark %s/%s: %w", source, itemKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s/%s: %w", source, itemKey, err)
	}
	if affected == 0 {
		// State changed under us between read and update.
		return fmt.Errorf("mark %s/%s: %w", source, itemKey, ErrInvalidTransition)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark %s/%s: %w", source, itemKey, err)
	}
	return nil
}

func (s *SQLiteStore) GetItem(ctx context.Context, source, itemKey string) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM items WHERE source = ? AND item_key = ?", source, itemKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get item %s/%s: %w", source, itemKey, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s/%s: %w", source, itemKey, err)
	}
	return &item, nil
}

// ListByState returns items in fetch order; used to recover NEW/SUMMARIZED
// items after a crash mid-cycle.
func (s *SQLiteStore) ListByState(ctx context.Context, state State) ([]Item, error) {
	query, args, err := sq.Select("*").From("items").
		Where(sq.Eq{"state": state}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list items by state %s: %w", state, err)
	}
	return items, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 100
	}
	query, args, err := sq.Select("*").From("items").
		OrderBy("fetched_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	var items []Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func (s *SQLiteStore) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT state, COUNT(*) as cnt FROM items GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count items by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var cnt int
		if err := rows.Scan(&state, &cnt); err != nil {
			return nil, err
		}
		counts[State(state)] = cnt
	}
	return counts, rows.Err()
}

// RecordCycle appends one cycle record. Cycles are never updated.
func (s *SQLiteStore) RecordCycle(ctx context.Context, c *Cycle) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (started_at, finished_at, outcome, items_considered, items_posted, note)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.StartedAt, c.FinishedAt, c.Outcome, c.ItemsConsidered, c.ItemsPosted, c.Note)
	if err != nil {
		return fmt.Errorf("record cycle: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListCycles(ctx context.Context, limit int) ([]Cycle, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := sq.Select("*").From("cycles").
		OrderBy("started_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cycles query: %w", err)
	}

	var cycles []Cycle
	if err := s.db.SelectContext(ctx, &cycles, query, args...); err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	return cycles, nil
}

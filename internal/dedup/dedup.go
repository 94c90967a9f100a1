// Package dedup filters fetched candidates down to items never seen before,
// inserting them into the store as NEW.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/avoronin/newsdigest/internal/store"
	"github.com/avoronin/newsdigest/pkg/source"
)

// Deduplicator decides which fetched items are new, using the store's atomic
// compare-and-insert as the only authority. It holds no seen-state of its own.
type Deduplicator struct {
	store store.Store
}

// New creates a Deduplicator backed by the given store.
func New(s store.Store) *Deduplicator {
	return &Deduplicator{store: s}
}

// FilterNew inserts unseen candidates as NEW and returns them in fetch order.
// Already-seen candidates are dropped silently; an AlreadyExists race on
// insert is treated the same way. Candidates without a usable key are skipped.
func (d *Deduplicator) FilterNew(ctx context.Context, candidates []source.RawItem) ([]store.Item, error) {
	var fresh []store.Item

	for _, c := range candidates {
		if c.Key == "" {
			continue
		}
		sourceID := string(c.Source)

		seen, err := d.store.HasSeen(ctx, sourceID, c.Key)
		if err != nil {
			return fresh, fmt.Errorf("check seen %s/%s: %w", sourceID, c.Key, err)
		}
		if seen {
			continue
		}

		// FetchedAt is first observation, not publication; InsertNew stamps it.
		item := store.Item{
			Source:  sourceID,
			ItemKey: c.Key,
			Title:   c.Title,
			URL:     c.URL,
			Excerpt: c.Excerpt,
			Author:  c.Author,
			State:   store.StateNew,
		}

		err = d.store.InsertNew(ctx, &item)
		if errors.Is(err, store.ErrAlreadyExists) {
			// Lost a concurrent insert race; the item is seen, not an error.
			continue
		}
		if err != nil {
			return fresh, fmt.Errorf("insert %s/%s: %w", sourceID, c.Key, err)
		}

		fresh = append(fresh, item)
	}

	return fresh, nil
}

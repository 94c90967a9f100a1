package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

// RSSFeed is a named RSS/Atom feed URL.
type RSSFeed struct {
	Name string
	URL  string
}

// RSS fetches candidate items from RSS/Atom feeds.
type RSS struct {
	client *http.Client
	parser *gofeed.Parser
	feeds  []RSSFeed
	filter *Filter
	maxAge time.Duration
}

// NewRSS creates a new RSS adapter. Items older than maxAge are skipped
// (default 24h).
func NewRSS(feeds []RSSFeed, filter *Filter, maxAge time.Duration) *RSS {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &RSS{
		client: &http.Client{Timeout: 30 * time.Second},
		parser: gofeed.NewParser(),
		feeds:  feeds,
		filter: filter,
		maxAge: maxAge,
	}
}

func (r *RSS) Name() Type { return TypeRSS }

// Fetch walks every configured feed. A single broken feed does not fail the
// adapter; its error is folded into the tail error after the good feeds have
// been returned.
func (r *RSS) Fetch(ctx context.Context) ([]RawItem, error) {
	var (
		items   []RawItem
		lastErr error
	)

	for _, feed := range r.feeds {
		feedItems, err := r.fetchFeed(ctx, feed)
		if err != nil {
			lastErr = err
			continue
		}
		items = append(items, feedItems...)
	}

	if len(items) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return items, nil
}

func (r *RSS) fetchFeed(ctx context.Context, feed RSSFeed) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create rss request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "newsdigest/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rss %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rss %s status %d", feed.Name, resp.StatusCode)
	}

	parsed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse rss %s: %w", feed.Name, err)
	}

	var items []RawItem
	cutoff := time.Now().Add(-r.maxAge)

	for _, entry := range parsed.Items {
		published := time.Now().UTC()
		if entry.PublishedParsed != nil {
			published = entry.PublishedParsed.UTC()
		} else if entry.UpdatedParsed != nil {
			published = entry.UpdatedParsed.UTC()
		}

		if published.Before(cutoff) {
			continue
		}

		text := entry.Title + " " + entry.Description
		if r.filter != nil && !r.filter.Matches(text) {
			continue
		}

		link := entry.Link
		if link == "" && len(entry.Links) > 0 {
			link = entry.Links[0]
		}

		author := ""
		if entry.Author != nil {
			author = entry.Author.Name
		}

		items = append(items, RawItem{
			Source:      TypeRSS,
			Key:         fmt.Sprintf("%s:%s", feed.Name, KeyFor(entry.GUID, link)),
			Title:       entry.Title,
			URL:         NormalizeURL(link),
			Excerpt:     truncate(entry.Description, 500),
			Author:      author,
			PublishedAt: published,
		})
	}

	return items, nil
}

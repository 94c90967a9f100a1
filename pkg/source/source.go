package source

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Type identifies which kind of origin an item came from.
type Type string

const (
	TypeRSS        Type = "rss"
	TypeHackerNews Type = "hackernews"
	TypeWebsite    Type = "website"
	TypeTelegram   Type = "telegram"
	TypeFinnhub    Type = "finnhub"
)

// RawItem is one candidate news entry as fetched from a source, before
// deduplication. Key must be stable across fetches of the same entry.
type RawItem struct {
	Source      Type
	Key         string
	Title       string
	URL         string
	Excerpt     string
	Author      string
	PublishedAt time.Time
}

// Source is the capability every adapter implements. Fetch returns candidates
// in source order; it must not touch the item store.
type Source interface {
	Name() Type
	Fetch(ctx context.Context) ([]RawItem, error)
}

// AllTypes returns all known source types.
func AllTypes() []Type {
	return []Type{TypeRSS, TypeHackerNews, TypeWebsite, TypeTelegram, TypeFinnhub}
}

// NormalizeURL strips query parameters, fragments, and trailing slashes so the
// same article reached through different tracking links keys identically.
func NormalizeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}

// KeyFor derives the deduplication key: the source-native id when one exists,
// otherwise the normalized URL.
func KeyFor(nativeID, rawURL string) string {
	if nativeID != "" {
		return nativeID
	}
	return NormalizeURL(rawURL)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

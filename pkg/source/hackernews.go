package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const hnBaseURL = "https://hacker-news.firebaseio.com/v0"

// HackerNews fetches matching stories from the Hacker News front page.
type HackerNews struct {
	client  *http.Client
	baseURL string
	limit   int
	filter  *Filter
}

// NewHackerNews creates a new HN adapter.
func NewHackerNews(limit int, filter *Filter) *HackerNews {
	if limit <= 0 {
		limit = 100
	}
	return &HackerNews{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: hnBaseURL,
		limit:   limit,
		filter:  filter,
	}
}

func (h *HackerNews) Name() Type { return TypeHackerNews }

func (h *HackerNews) Fetch(ctx context.Context) ([]RawItem, error) {
	ids, err := h.fetchTopStories(ctx)
	if err != nil {
		return nil, err
	}

	if len(ids) > h.limit {
		ids = ids[:h.limit]
	}

	// Stories come back in rank order; fetch concurrently but reassemble in
	// the original order so downstream batches stay deterministic.
	stories := make([]*hnStory, len(ids))
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, 10)
	)

	for i, id := range ids {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			story, err := h.fetchItem(ctx, id)
			if err != nil {
				return
			}
			stories[i] = story
		}(i, id)
	}
	wg.Wait()

	var items []RawItem
	for _, story := range stories {
		if story == nil {
			continue
		}

		text := story.Title + " " + story.URL
		if h.filter != nil && !h.filter.Matches(text) {
			continue
		}

		link := story.URL
		if link == "" {
			link = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
		}

		items = append(items, RawItem{
			Source:      TypeHackerNews,
			Key:         fmt.Sprintf("%d", story.ID),
			Title:       story.Title,
			URL:         link,
			Author:      story.By,
			PublishedAt: time.Unix(story.Time, 0).UTC(),
		})
	}

	return items, nil
}

type hnStory struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	By    string `json:"by"`
	Time  int64  `json:"time"`
	Type  string `json:"type"`
}

func (h *HackerNews) fetchTopStories(ctx context.Context) ([]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/topstories.json", nil)
	if err != nil {
		return nil, fmt.Errorf("create hn request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch hn top stories: %w", err)
	}
	defer resp.Body.Close()

	var ids []int
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode hn top stories: %w", err)
	}
	return ids, nil
}

func (h *HackerNews) fetchItem(ctx context.Context, id int) (*hnStory, error) {
	url := fmt.Sprintf("%s/item/%d.json", h.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create hn item request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch hn item %d: %w", id, err)
	}
	defer resp.Body.Close()

	var story hnStory
	if err := json.NewDecoder(resp.Body).Decode(&story); err != nil {
		return nil, fmt.Errorf("decode hn item %d: %w", id, err)
	}

	if story.Type != "story" {
		return nil, fmt.Errorf("hn item %d is not a story", id)
	}
	return &story, nil
}

package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// TelegramChannel reads public channels through their t.me/s preview pages,
// which needs no API credentials.
type TelegramChannel struct {
	client   *http.Client
	baseURL  string
	channels []string
	filter   *Filter
}

// NewTelegramChannel creates a new adapter over public channel names
// (without the @ prefix).
func NewTelegramChannel(channels []string, filter *Filter) *TelegramChannel {
	return &TelegramChannel{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  "https://t.me",
		channels: channels,
		filter:   filter,
	}
}

func (t *TelegramChannel) Name() Type { return TypeTelegram }

func (t *TelegramChannel) Fetch(ctx context.Context) ([]RawItem, error) {
	var (
		items   []RawItem
		lastErr error
	)

	for _, channel := range t.channels {
		channelItems, err := t.fetchChannel(ctx, channel)
		if err != nil {
			lastErr = err
			continue
		}
		items = append(items, channelItems...)
	}

	if len(items) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return items, nil
}

func (t *TelegramChannel) fetchChannel(ctx context.Context, channel string) ([]RawItem, error) {
	pageURL := fmt.Sprintf("%s/s/%s", t.baseURL, channel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create telegram request %s: %w", channel, err)
	}
	req.Header.Set("User-Agent", "newsdigest/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch telegram channel %s: %w", channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram channel %s status %d", channel, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse telegram channel %s: %w", channel, err)
	}

	var items []RawItem
	doc.Find(".tgme_widget_message").Each(func(_ int, s *goquery.Selection) {
		post, ok := s.Attr("data-post") // "channel/123"
		if !ok {
			return
		}

		text := cleanText(s.Find(".tgme_widget_message_text").First().Text())
		if text == "" {
			return
		}
		if t.filter != nil && !t.filter.Matches(text) {
			return
		}

		published := time.Now().UTC()
		if dt, ok := s.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
			if parsed, err := time.Parse(time.RFC3339, dt); err == nil {
				published = parsed.UTC()
			}
		}

		title := truncate(text, 120)
		items = append(items, RawItem{
			Source:      TypeTelegram,
			Key:         post,
			Title:       title,
			URL:         fmt.Sprintf("%s/%s", t.baseURL, post),
			Excerpt:     truncate(text, 500),
			Author:      channel,
			PublishedAt: published,
		})
	})

	return items, nil
}

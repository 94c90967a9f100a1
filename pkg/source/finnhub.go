package source

import (
	"context"
	"strconv"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"
)

// Finnhub fetches general market news from the Finnhub API.
type Finnhub struct {
	client   *finnhub.DefaultApiService
	category string
	limit    int
	filter   *Filter
}

// NewFinnhub creates a new Finnhub adapter.
func NewFinnhub(apiKey, category string, limit int, filter *Filter) *Finnhub {
	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	if category == "" {
		category = "general"
	}
	if limit <= 0 {
		limit = 50
	}
	return &Finnhub{
		client:   finnhub.NewAPIClient(cfg).DefaultApi,
		category: category,
		limit:    limit,
		filter:   filter,
	}
}

func (f *Finnhub) Name() Type { return TypeFinnhub }

func (f *Finnhub) Fetch(ctx context.Context) ([]RawItem, error) {
	res, _, err := f.client.MarketNews(ctx).Category(f.category).Execute()
	if err != nil {
		return nil, err
	}

	var items []RawItem
	for _, news := range res {
		if len(items) >= f.limit {
			break
		}

		item := RawItem{Source: TypeFinnhub, PublishedAt: time.Now().UTC()}

		if news.Id != nil {
			item.Key = strconv.FormatInt(*news.Id, 10)
		}
		if news.Headline != nil {
			item.Title = *news.Headline
		}
		if news.Summary != nil {
			item.Excerpt = truncate(*news.Summary, 500)
		}
		if news.Url != nil {
			item.URL = *news.Url
		}
		if news.Datetime != nil {
			item.PublishedAt = time.Unix(*news.Datetime, 0).UTC()
		}
		if news.Source != nil {
			item.Author = *news.Source
		}

		if item.Key == "" {
			item.Key = KeyFor("", item.URL)
		}
		if item.Title == "" || item.Key == "" {
			continue
		}
		if f.filter != nil && !f.filter.Matches(item.Title+" "+item.Excerpt) {
			continue
		}

		items = append(items, item)
	}

	return items, nil
}

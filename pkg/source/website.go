package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Site is a static HTML page listing news entries.
type Site struct {
	Name string
	URL  string
}

// Website scrapes article listings from static news pages. Pages that render
// their listing client-side are out of scope for this adapter.
type Website struct {
	client *http.Client
	sites  []Site
	filter *Filter
}

// NewWebsite creates a new website adapter.
func NewWebsite(sites []Site, filter *Filter) *Website {
	return &Website{
		client: &http.Client{Timeout: 30 * time.Second},
		sites:  sites,
		filter: filter,
	}
}

func (w *Website) Name() Type { return TypeWebsite }

func (w *Website) Fetch(ctx context.Context) ([]RawItem, error) {
	var (
		items   []RawItem
		lastErr error
	)

	for _, site := range w.sites {
		siteItems, err := w.fetchSite(ctx, site)
		if err != nil {
			lastErr = err
			continue
		}
		items = append(items, siteItems...)
	}

	if len(items) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return items, nil
}

// articleSelectors are tried in order; the first selector with hits wins so
// generic fallbacks don't duplicate entries already matched by <article>.
var articleSelectors = []string{
	"article",
	".article",
	".news-item",
	".post",
	".entry",
}

func (w *Website) fetchSite(ctx context.Context, site Site) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, site.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create website request %s: %w", site.Name, err)
	}
	req.Header.Set("User-Agent", "newsdigest/1.0")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch website %s: %w", site.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("website %s status %d", site.Name, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse website %s: %w", site.Name, err)
	}

	base, err := url.Parse(site.URL)
	if err != nil {
		return nil, fmt.Errorf("parse site url %s: %w", site.Name, err)
	}

	var items []RawItem
	seen := map[string]struct{}{}

	for _, selector := range articleSelectors {
		sel := doc.Find(selector)
		if sel.Length() == 0 {
			continue
		}

		sel.Each(func(_ int, s *goquery.Selection) {
			title := cleanText(s.Find("h1, h2, h3, .title, .headline").First().Text())
			excerpt := cleanText(s.Find("p, .content, .text, .description").First().Text())

			href, _ := s.Find("a[href]").First().Attr("href")
			link := site.URL
			if href != "" {
				if ref, err := url.Parse(href); err == nil {
					link = base.ResolveReference(ref).String()
				}
			}
			link = NormalizeURL(link)

			if title == "" {
				return
			}
			if w.filter != nil && !w.filter.Matches(title+" "+excerpt) {
				return
			}
			if _, ok := seen[link]; ok {
				return
			}
			seen[link] = struct{}{}

			items = append(items, RawItem{
				Source:      TypeWebsite,
				Key:         fmt.Sprintf("%s:%s", site.Name, link),
				Title:       title,
				URL:         link,
				Excerpt:     truncate(excerpt, 500),
				PublishedAt: time.Now().UTC(),
			})
		})
		break
	}

	return items, nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

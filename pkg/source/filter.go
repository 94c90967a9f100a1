package source

import "strings"

// DefaultKeywords is the base set used for filtering marketplace and
// e-commerce content.
var DefaultKeywords = []string{
	"marketplace", "e-commerce", "ecommerce", "online retail",
	"online store", "online shopping", "webshop",
	"ozon", "wildberries", "aliexpress", "amazon", "ebay", "etsy",
	"shopify", "lamoda", "avito",
	"delivery", "fulfillment", "logistics", "warehouse",
	"seller", "merchant", "commission", "checkout", "last mile",
}

// Filter holds keyword lists for relevance matching.
type Filter struct {
	keywords []string
	exclude  []string
}

// NewFilter creates a filter with default keywords plus extras. An empty
// combined keyword list matches everything.
func NewFilter(extraKeywords, excludeKeywords []string) *Filter {
	keywords := make([]string, len(DefaultKeywords))
	copy(keywords, DefaultKeywords)
	keywords = append(keywords, extraKeywords...)

	for i, kw := range keywords {
		keywords[i] = strings.ToLower(kw)
	}

	exclude := make([]string, len(excludeKeywords))
	for i, kw := range excludeKeywords {
		exclude[i] = strings.ToLower(kw)
	}

	return &Filter{keywords: keywords, exclude: exclude}
}

// MatchAll returns a filter that accepts everything except excluded keywords.
func MatchAll(excludeKeywords []string) *Filter {
	f := NewFilter(nil, excludeKeywords)
	f.keywords = nil
	return f
}

// Matches returns true if text passes the exclude list and contains at least
// one keyword (or the keyword list is empty).
func (f *Filter) Matches(text string) bool {
	lower := strings.ToLower(text)

	for _, ex := range f.exclude {
		if strings.Contains(lower, ex) {
			return false
		}
	}

	if len(f.keywords) == 0 {
		return true
	}
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

package source

import "testing"

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips query params", "https://example.com/news/1?utm_source=x&ref=y", "https://example.com/news/1"},
		{"strips fragment", "https://example.com/news/1#comments", "https://example.com/news/1"},
		{"strips trailing slash", "https://example.com/news/1/", "https://example.com/news/1"},
		{"plain url unchanged", "https://example.com/news/1", "https://example.com/news/1"},
		{"empty stays empty", "", ""},
		{"host only", "https://example.com/", "https://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.in); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestKeyFor(t *testing.T) {
	if got := KeyFor("abc-123", "https://example.com/news/1?x=1"); got != "abc-123" {
		t.Errorf("native id should win, got %q", got)
	}
	if got := KeyFor("", "https://example.com/news/1?x=1"); got != "https://example.com/news/1" {
		t.Errorf("fallback should be normalized url, got %q", got)
	}
}

func TestFilterMatches(t *testing.T) {
	f := NewFilter([]string{"groceries"}, []string{"sponsored"})

	tests := []struct {
		text string
		want bool
	}{
		{"Amazon opens new warehouse", true},
		{"Groceries delivery expands", true},
		{"Sponsored: marketplace deals", false},
		{"Local weather update", false},
	}
	for _, tt := range tests {
		if got := f.Matches(tt.text); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMatchAllAcceptsAnything(t *testing.T) {
	f := MatchAll([]string{"spam"})
	if !f.Matches("completely unrelated text") {
		t.Error("MatchAll should accept unrelated text")
	}
	if f.Matches("this is spam really") {
		t.Error("MatchAll should still honor excludes")
	}
}

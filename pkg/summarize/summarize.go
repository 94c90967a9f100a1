// Package summarize condenses a batch of new items into a publishable digest
// through an LLM completion call.
package summarize

import (
	"context"
	"fmt"
	"strings"

	"github.com/avoronin/newsdigest/internal/store"
)

const systemPrompt = `You are a news editor for a marketplace and e-commerce digest channel. You write short, factual digests in plain language. Keep every concrete fact: numbers, company names, dates, percentages. No hype words, no emoji spam, no invented details.`

const digestPrompt = `Write one digest message covering the news items below.

Rules:
1. Open with a single-line heading for the digest.
2. One bullet per item: a bolded short headline, then 1-2 sentences with the key facts, then the link on its own line.
3. Keep the source order of the items.
4. Plain text with minimal Markdown (bold and links only).
5. Do not add items, opinions, or calls to action.

Items:
%s`

// Completer is the external text-generation capability. Implementations
// return retry.Permanent-wrapped errors for failures no retry can fix.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Digester builds prompts, splits oversized batches, and cleans model output.
type Digester struct {
	completer Completer
	maxItems  int
	maxChars  int
}

// NewDigester creates a Digester with the given batch budgets.
func NewDigester(completer Completer, maxItems, maxChars int) *Digester {
	if maxItems <= 0 {
		maxItems = 12
	}
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &Digester{completer: completer, maxItems: maxItems, maxChars: maxChars}
}

// Split partitions items into chunks that fit the configured item-count and
// character budgets. Oversized input is split, never truncated; each chunk
// later produces an independent message.
func (d *Digester) Split(items []store.Item) [][]store.Item {
	var (
		batches [][]store.Item
		current []store.Item
		chars   int
	)

	for _, item := range items {
		itemChars := len(item.Title) + len(item.Excerpt) + len(item.URL)
		if len(current) > 0 && (len(current) >= d.maxItems || chars+itemChars > d.maxChars) {
			batches = append(batches, current)
			current = nil
			chars = 0
		}
		current = append(current, item)
		chars += itemChars
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Summarize produces the digest text for one batch.
func (d *Digester) Summarize(ctx context.Context, batch []store.Item) (string, error) {
	if len(batch) == 0 {
		return "", fmt.Errorf("summarize: empty batch")
	}

	var lines []string
	for _, item := range batch {
		line := fmt.Sprintf("- Source: %s | Title: %s", item.Source, item.Title)
		if item.Excerpt != "" {
			line += " | Excerpt: " + item.Excerpt
		}
		if item.URL != "" {
			line += " | URL: " + item.URL
		}
		lines = append(lines, line)
	}

	prompt := fmt.Sprintf(digestPrompt, strings.Join(lines, "\n"))

	raw, err := d.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", d.completer.Name(), err)
	}

	text := cleanResponse(raw)
	if text == "" {
		return "", fmt.Errorf("%s: empty completion", d.completer.Name())
	}
	return text, nil
}

// cleanResponse strips markdown code fences some models wrap output in.
func cleanResponse(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx >= 0 {
			content = content[idx+1:]
		} else {
			content = strings.TrimPrefix(content, "```")
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}

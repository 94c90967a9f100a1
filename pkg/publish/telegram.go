package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// telegramMessageLimit is the bot API cap for one sendMessage call.
const telegramMessageLimit = 4096

// Telegram posts digests to a channel via the bot API.
type Telegram struct {
	client   *http.Client
	apiBase  string
	botToken string
	chatID   string
}

// NewTelegram creates a Telegram publisher for the given channel.
func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		client:   &http.Client{Timeout: 15 * time.Second},
		apiBase:  "https://api.telegram.org",
		botToken: botToken,
		chatID:   chatID,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Send posts text to the channel, splitting messages over the API limit at
// line boundaries.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if t.botToken == "" || t.chatID == "" {
		return fmt.Errorf("telegram publisher misconfigured")
	}

	for _, chunk := range splitMessage(text, telegramMessageLimit) {
		if err := t.sendOne(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendOne(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", text)
	form.Set("parse_mode", "Markdown")
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	// Surface the API description when the body carries one.
	var apiResp struct {
		Description string `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&apiResp)
	err = classifyStatus("telegram", resp.StatusCode)
	if apiResp.Description != "" {
		return fmt.Errorf("%w: %s", err, apiResp.Description)
	}
	return err
}

// splitMessage breaks text into chunks of at most limit bytes, preferring
// newline boundaries so bullets stay intact.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	lines := strings.Split(text, "\n")
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, line := range lines {
		// A single line over the limit is hard-split.
		for len(line) > limit {
			flush()
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}

		extra := len(line)
		if current.Len() > 0 {
			extra++ // newline
		}
		if current.Len()+extra > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()

	return chunks
}

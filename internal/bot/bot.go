// Package bot runs the Telegram admin interface: a long-polling loop that
// accepts control commands from a single configured admin user.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avoronin/newsdigest/internal/scheduler"
	"github.com/avoronin/newsdigest/internal/store"
)

const pollTimeout = 30 // seconds, long-polling window for getUpdates

// Bot is the admin command loop.
type Bot struct {
	client  *http.Client
	apiBase string
	token   string
	adminID int64
	sched   *scheduler.Scheduler
	store   store.Store
	log     *logrus.Logger
	offset  int64
}

// New creates the admin bot. Only messages from adminID are acted on.
func New(token string, adminID int64, sched *scheduler.Scheduler, st store.Store, log *logrus.Logger) *Bot {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bot{
		client:  &http.Client{Timeout: (pollTimeout + 10) * time.Second},
		apiBase: "https://api.telegram.org",
		token:   token,
		adminID: adminID,
		sched:   sched,
		store:   st,
		log:     log,
	}
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		From *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// Run polls for commands until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.log.WithField("admin", b.adminID).Info("admin bot running")

	for {
		select {
		case <-ctx.Done():
			b.log.Info("admin bot stopped")
			return ctx.Err()
		default:
		}

		updates, err := b.getUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.WithError(err).Warn("poll failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			b.offset = u.UpdateID + 1
			b.handleUpdate(ctx, u)
		}
	}
}

func (b *Bot) getUpdates(ctx context.Context) ([]update, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=%d",
		b.apiBase, b.token, b.offset, pollTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create poll request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll updates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll updates: status %d", resp.StatusCode)
	}

	var body struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !body.OK {
		return nil, fmt.Errorf("poll updates: api not ok")
	}
	return body.Result, nil
}

func (b *Bot) handleUpdate(ctx context.Context, u update) {
	if u.Message == nil || u.Message.From == nil {
		return
	}
	if u.Message.From.ID != b.adminID {
		b.log.WithField("from", u.Message.From.ID).Debug("ignoring non-admin message")
		return
	}

	cmd := strings.TrimSpace(u.Message.Text)
	// Commands may carry the bot mention suffix in groups.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}

	var reply string
	switch cmd {
	case "/status":
		reply = b.statusText(ctx)
	case "/pause":
		b.sched.Pause()
		reply = "Paused. Scheduled cycles are skipped until /resume."
	case "/resume":
		b.sched.Resume()
		reply = "Resumed."
	case "/check":
		if b.sched.Paused() {
			reply = "Scheduler is paused; /resume first."
		} else if b.sched.TriggerNow() {
			reply = "Cycle triggered."
		} else {
			reply = "A cycle trigger is already queued."
		}
	case "/start", "/help":
		reply = "Commands:\n/status - pipeline state\n/check - run a cycle now\n/pause - skip scheduled cycles\n/resume - re-enable cycles"
	default:
		return
	}

	if err := b.reply(ctx, u.Message.Chat.ID, reply); err != nil {
		b.log.WithError(err).Warn("reply failed")
	}
}

func (b *Bot) statusText(ctx context.Context) string {
	var sb strings.Builder

	st := b.sched.Status()
	if st.Paused {
		sb.WriteString("Scheduler: paused\n")
	} else {
		sb.WriteString(fmt.Sprintf("Scheduler: running (every %s)\n", st.Interval))
	}
	if st.LastCycle != nil {
		sb.WriteString(fmt.Sprintf("Last cycle: %s, %d considered, %d posted\n",
			st.LastCycle.Outcome, st.LastCycle.ItemsConsidered, st.LastCycle.ItemsPosted))
	}

	counts, err := b.store.CountByState(ctx)
	if err != nil {
		sb.WriteString("Items: unavailable: " + err.Error())
		return sb.String()
	}
	sb.WriteString(fmt.Sprintf("Items: %d new, %d summarized, %d posted, %d failed",
		counts[store.StateNew], counts[store.StateSummarized],
		counts[store.StatePosted], counts[store.StateFailed]))
	return sb.String()
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", b.apiBase, b.token)
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send reply: status %d", resp.StatusCode)
	}
	return nil
}

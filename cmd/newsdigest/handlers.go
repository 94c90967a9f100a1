package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/avoronin/newsdigest/internal/bot"
	"github.com/avoronin/newsdigest/internal/config"
	"github.com/avoronin/newsdigest/internal/scheduler"
	"github.com/avoronin/newsdigest/internal/store"
	"github.com/avoronin/newsdigest/pkg/publish"
	"github.com/avoronin/newsdigest/pkg/retry"
	"github.com/avoronin/newsdigest/pkg/server"
	"github.com/avoronin/newsdigest/pkg/source"
	"github.com/avoronin/newsdigest/pkg/summarize"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Logging.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

func buildFilter(cfg *config.Config) *source.Filter {
	if cfg.Filter.Disabled {
		return source.MatchAll(cfg.Filter.ExcludeKeywords)
	}
	return source.NewFilter(cfg.Filter.ExtraKeywords, cfg.Filter.ExcludeKeywords)
}

func buildSources(cfg *config.Config, filter *source.Filter) []source.Source {
	var sources []source.Source

	if cfg.Sources.RSS.Enabled {
		feeds := make([]source.RSSFeed, len(cfg.Sources.RSS.Feeds))
		for i, f := range cfg.Sources.RSS.Feeds {
			feeds[i] = source.RSSFeed{Name: f.Name, URL: f.URL}
		}
		sources = append(sources, source.NewRSS(feeds, filter, cfg.Sources.RSS.ParseMaxAge()))
	}
	if cfg.Sources.HackerNews.Enabled {
		sources = append(sources, source.NewHackerNews(cfg.Sources.HackerNews.Limit, filter))
	}
	if cfg.Sources.Website.Enabled {
		sites := make([]source.Site, len(cfg.Sources.Website.Sites))
		for i, s := range cfg.Sources.Website.Sites {
			sites[i] = source.Site{Name: s.Name, URL: s.URL}
		}
		sources = append(sources, source.NewWebsite(sites, filter))
	}
	if cfg.Sources.Telegram.Enabled {
		sources = append(sources, source.NewTelegramChannel(cfg.Sources.Telegram.Channels, filter))
	}
	if cfg.Sources.Finnhub.Enabled && cfg.Sources.Finnhub.APIKey != "" {
		sources = append(sources, source.NewFinnhub(
			cfg.Sources.Finnhub.APIKey,
			cfg.Sources.Finnhub.Category,
			cfg.Sources.Finnhub.Limit,
			filter,
		))
	}

	return sources
}

func buildDigester(cfg *config.Config) *summarize.Digester {
	completer := summarize.NewCompleter(
		cfg.Summarize.Provider,
		cfg.Summarize.APIKey,
		cfg.Summarize.BaseURL,
		cfg.Summarize.Model,
	)
	return summarize.NewDigester(completer, cfg.Summarize.MaxBatchItems, cfg.Summarize.MaxBatchChars)
}

func buildPublishers(cfg *config.Config) (primary, mirror publish.Publisher) {
	primary = publish.NewTelegram(cfg.Publish.Telegram.BotToken, cfg.Publish.Telegram.ChannelID)
	if cfg.Publish.Webhook.Enabled && cfg.Publish.Webhook.URL != "" {
		mirror = publish.NewWebhook(cfg.Publish.Webhook.URL, cfg.Publish.Webhook.Secret)
	}
	return primary, mirror
}

func retryPolicy(rc config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: rc.MaxAttempts,
		BaseDelay:   rc.ParseBaseDelay(),
		MaxDelay:    rc.ParseMaxDelay(),
	}
}

func buildScheduler(cfg *config.Config, db store.Store, log *logrus.Logger) *scheduler.Scheduler {
	filter := buildFilter(cfg)
	sources := buildSources(cfg, filter)
	digester := buildDigester(cfg)
	primary, mirror := buildPublishers(cfg)

	return scheduler.New(db, sources, digester, primary, mirror, scheduler.Config{
		Interval:       cfg.Schedule.ParseInterval(),
		SourceTimeout:  cfg.Schedule.ParseSourceTimeout(),
		FetchWorkers:   cfg.Schedule.FetchWorkers,
		SummarizeRetry: retryPolicy(cfg.Summarize.Retry),
		PublishRetry:   retryPolicy(cfg.Publish.Retry),
	}, log)
}

func runDaemon(port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if port == 0 {
		port = cfg.Control.Server.Port
	}
	log := newLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := buildScheduler(cfg, db, log)

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			// Without the store the no-duplicate guarantee is gone; stop hard.
			log.WithError(err).Fatal("scheduler exited")
		}
	}()

	if cfg.Control.Bot.Enabled && cfg.Control.Bot.AdminUserID != 0 {
		adminBot := bot.New(cfg.Publish.Telegram.BotToken, cfg.Control.Bot.AdminUserID, sched, db, log)
		go func() {
			if err := adminBot.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("admin bot exited")
			}
		}()
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
	}()

	srv := server.New(db, sched, port, cfg.Control.Server.AdminToken, log)
	return srv.ListenAndServe()
}

func runCycle() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := newLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return buildScheduler(cfg, db, log).RunOnce(ctx)
}

func runStatus(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	counts, err := db.CountByState(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}

	if jsonOutput {
		recent, err := db.ListCycles(ctx, 5)
		if err != nil {
			return fmt.Errorf("list cycles: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"items": counts, "recent_cycles": recent})
	}

	fmt.Printf("items: %d new, %d summarized, %d posted, %d failed\n",
		counts[store.StateNew], counts[store.StateSummarized],
		counts[store.StatePosted], counts[store.StateFailed])

	cycles, err := db.ListCycles(ctx, 5)
	if err != nil {
		return fmt.Errorf("list cycles: %w", err)
	}
	if len(cycles) == 0 {
		fmt.Println("no cycles recorded yet (run: newsdigest cycle)")
		return nil
	}

	fmt.Println("\nrecent cycles:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tCONSIDERED\tPOSTED")
	for _, c := range cycles {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n",
			c.StartedAt.Format(time.RFC3339), c.Outcome, c.ItemsConsidered, c.ItemsPosted)
	}
	return w.Flush()
}

func runItems(state string, limit int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	var items []store.Item
	if state != "" {
		items, err = db.ListByState(ctx, store.State(state))
	} else {
		items, err = db.ListItems(ctx, limit)
	}
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	if len(items) == 0 {
		fmt.Println("no items")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATE\tSOURCE\tFETCHED\tTITLE")
	for _, item := range items {
		title := item.Title
		if len(title) > 60 {
			title = title[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			item.State, item.Source, item.FetchedAt.Format("01-02 15:04"), title)
	}
	return w.Flush()
}

func runCycles(limit int, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	cycles, err := db.ListCycles(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("list cycles: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cycles)
	}

	if len(cycles) == 0 {
		fmt.Println("no cycles recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tDURATION\tOUTCOME\tCONSIDERED\tPOSTED\tNOTE")
	for _, c := range cycles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			c.StartedAt.Format(time.RFC3339),
			c.FinishedAt.Sub(c.StartedAt).Round(time.Millisecond),
			c.Outcome, c.ItemsConsidered, c.ItemsPosted, c.Note)
	}
	return w.Flush()
}

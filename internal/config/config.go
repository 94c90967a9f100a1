package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration. It is loaded once at process start and
// treated as immutable afterwards; a restart picks up changes.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Sources   SourcesConfig   `yaml:"sources"`
	Filter    FilterConfig    `yaml:"filter"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Publish   PublishConfig   `yaml:"publish"`
	Control   ControlConfig   `yaml:"control"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the polling cycle.
type ScheduleConfig struct {
	Interval      string `yaml:"interval"`
	SourceTimeout string `yaml:"source_timeout"`
	FetchWorkers  int    `yaml:"fetch_workers"`
}

// ParseInterval returns the cycle interval as time.Duration.
func (s ScheduleConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ParseSourceTimeout returns the per-fetch timeout.
func (s ScheduleConfig) ParseSourceTimeout() time.Duration {
	d, err := time.ParseDuration(s.SourceTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// SourcesConfig holds configuration for all source adapters.
type SourcesConfig struct {
	RSS        RSSConfig        `yaml:"rss"`
	HackerNews HackerNewsConfig `yaml:"hackernews"`
	Website    WebsiteConfig    `yaml:"website"`
	Telegram   TelegramSrcCfg   `yaml:"telegram"`
	Finnhub    FinnhubConfig    `yaml:"finnhub"`
}

// RSSConfig for the RSS feed adapter.
type RSSConfig struct {
	Enabled bool       `yaml:"enabled"`
	Feeds   []FeedItem `yaml:"feeds"`
	MaxAge  string     `yaml:"max_age"`
}

// ParseMaxAge returns the feed item age cutoff.
func (r RSSConfig) ParseMaxAge() time.Duration {
	d, err := time.ParseDuration(r.MaxAge)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// FeedItem is a single RSS feed entry.
type FeedItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// HackerNewsConfig for the Hacker News adapter.
type HackerNewsConfig struct {
	Enabled bool `yaml:"enabled"`
	Limit   int  `yaml:"limit"`
}

// WebsiteConfig for the static-page scraping adapter.
type WebsiteConfig struct {
	Enabled bool       `yaml:"enabled"`
	Sites   []SiteItem `yaml:"sites"`
}

// SiteItem is a single scraped listing page.
type SiteItem struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// TelegramSrcCfg for the public-channel adapter.
type TelegramSrcCfg struct {
	Enabled  bool     `yaml:"enabled"`
	Channels []string `yaml:"channels"`
}

// FinnhubConfig for the market-news adapter.
type FinnhubConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIKey   string `yaml:"api_key"`
	Category string `yaml:"category"`
	Limit    int    `yaml:"limit"`
}

// FilterConfig configures keyword relevance filtering.
type FilterConfig struct {
	Disabled        bool     `yaml:"disabled"`
	ExtraKeywords   []string `yaml:"extra_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// SummarizeConfig configures the LLM digest step.
type SummarizeConfig struct {
	Provider      string      `yaml:"provider"` // "openai" or "anthropic"
	Model         string      `yaml:"model"`
	APIKey        string      `yaml:"api_key"`
	BaseURL       string      `yaml:"base_url"`
	MaxBatchItems int         `yaml:"max_batch_items"`
	MaxBatchChars int         `yaml:"max_batch_chars"`
	Retry         RetryConfig `yaml:"retry"`
}

// PublishConfig configures channel delivery.
type PublishConfig struct {
	Telegram TelegramPubCfg `yaml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Retry    RetryConfig    `yaml:"retry"`
}

// TelegramPubCfg wires the target channel.
type TelegramPubCfg struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// WebhookConfig for the optional mirror endpoint.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// RetryConfig parameterizes one backoff policy.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
}

// ParseBaseDelay returns the initial backoff.
func (r RetryConfig) ParseBaseDelay() time.Duration {
	d, err := time.ParseDuration(r.BaseDelay)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ParseMaxDelay returns the backoff cap.
func (r RetryConfig) ParseMaxDelay() time.Duration {
	d, err := time.ParseDuration(r.MaxDelay)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// ControlConfig configures the admin surfaces.
type ControlConfig struct {
	Server ServerConfig  `yaml:"server"`
	Bot    ControlBotCfg `yaml:"bot"`
}

// ServerConfig configures the HTTP control API.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
}

// ControlBotCfg configures the Telegram admin bot.
type ControlBotCfg struct {
	Enabled     bool  `yaml:"enabled"`
	AdminUserID int64 `yaml:"admin_user_id"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./newsdigest.db"},
		Schedule: ScheduleConfig{
			Interval:      "60m",
			SourceTimeout: "2m",
			FetchWorkers:  4,
		},
		Sources: SourcesConfig{
			RSS: RSSConfig{
				Enabled: true,
				MaxAge:  "24h",
				Feeds: []FeedItem{
					{Name: "TechCrunch Commerce", URL: "https://techcrunch.com/category/commerce/feed/"},
					{Name: "Retail Dive", URL: "https://www.retaildive.com/feeds/news/"},
				},
			},
			HackerNews: HackerNewsConfig{Enabled: false, Limit: 100},
			Website:    WebsiteConfig{Enabled: false},
			Telegram:   TelegramSrcCfg{Enabled: false},
			Finnhub:    FinnhubConfig{Enabled: false, Category: "general", Limit: 50},
		},
		Summarize: SummarizeConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			MaxBatchItems: 12,
			MaxBatchChars: 8000,
			Retry:         RetryConfig{MaxAttempts: 3, BaseDelay: "2s", MaxDelay: "1m"},
		},
		Publish: PublishConfig{
			Retry: RetryConfig{MaxAttempts: 3, BaseDelay: "2s", MaxDelay: "1m"},
		},
		Control: ControlConfig{
			Server: ServerConfig{Port: 8080},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
// A .env file next to the binary is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NEWSDIGEST_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CHECK_INTERVAL"); v != "" {
		cfg.Schedule.Interval = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Summarize.APIKey = v
		cfg.Summarize.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Summarize.APIKey = v
		cfg.Summarize.Provider = "anthropic"
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Sources.Finnhub.APIKey = v
		cfg.Sources.Finnhub.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Publish.Telegram.BotToken = v
	}
	if v := os.Getenv("TARGET_CHANNEL_ID"); v != "" {
		cfg.Publish.Telegram.ChannelID = v
	}
	if v := os.Getenv("ADMIN_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Control.Bot.AdminUserID = id
			cfg.Control.Bot.Enabled = true
		}
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.Control.Server.AdminToken = v
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Summarize.APIKey == "" {
		return fmt.Errorf("summarize.api_key is required (OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	}
	if c.Publish.Telegram.BotToken == "" || c.Publish.Telegram.ChannelID == "" {
		return fmt.Errorf("publish.telegram bot_token and channel_id are required")
	}
	return nil
}

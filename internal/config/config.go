// Package config loads and validates the pipeline's environment-variable
// configuration. Loading is a pure function over a string map (spec.md
// §9's redesign note: "a pure load_config(env map) that takes the
// environment as input; file loading is a thin caller") — reading
// os.Environ() and any .env file happens only in cmd/ingestd/main.go.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config is the fully parsed, not-yet-validated configuration for one
// pipeline run.
type Config struct {
	Mastodon  MastodonConfig
	RSS       RSSConfig
	Reddit    RedditConfig
	Extractor ExtractorConfig
	Buffer    BufferConfig
	Snapshot  SnapshotConfig
	Health    HealthConfig
	PostLog   PostLogConfig
}

// MastodonConfig configures the microblog datasource (spec.md §4.B/§4.C).
type MastodonConfig struct {
	InstanceURL  string
	ClientID     string
	ClientSecret string
	AccessToken  string
	Mode         string // "stream" (default) or "polling"
	PollInterval time.Duration
}

// RSSConfig configures the RSS datasource (spec.md §4.D).
type RSSConfig struct {
	Enabled      bool
	Feeds        []Feed
	PollInterval time.Duration
	UserAgent    string
}

// Feed is one configured RSS source.
type Feed struct {
	URL      string
	Name     string
	Language string
}

// defaultRSSFeeds mirrors the original's Tier 1 Vienna feed list.
var defaultRSSFeeds = []Feed{
	{URL: "https://rss.orf.at/wien.xml", Name: "orf-wien", Language: "de"},
	{URL: "https://rss.orf.at/news.xml", Name: "orf-news", Language: "de"},
	{URL: "http://www.vienna.at/rss", Name: "vienna-at", Language: "de"},
	{URL: "https://www.ots.at/rss/index", Name: "ots", Language: "de"},
}

// RedditConfig configures the link-aggregator datasource (spec.md §4.E).
type RedditConfig struct {
	Enabled         bool
	ClientID        string
	ClientSecret    string
	Username        string
	Password        string
	Subreddits      []string
	PollInterval    time.Duration
	IncludeComments bool
}

// ExtractorConfig configures the LLM topic extractor (spec.md §4.G).
type ExtractorConfig struct {
	APIKey         string
	Model          string
	MaxRetries     int
	InitialBackoff time.Duration
}

// BufferConfig configures the time-windowed batching buffer (spec.md §4.F).
type BufferConfig struct {
	WindowSeconds int
	MaxBatchSize  int
}

// SnapshotConfig configures hourly snapshot persistence (spec.md §4.I).
type SnapshotConfig struct {
	Dir            string
	RetentionHours int
}

// HealthConfig configures the health monitor (spec.md §4.K).
type HealthConfig struct {
	StaleStreamSeconds time.Duration
	LogInterval        time.Duration
}

// PostLogConfig configures the durable post log (spec.md §4.J).
type PostLogConfig struct {
	DBPath string
}

// Load builds a Config from an environment map (e.g. from os.Environ()
// merged with a .env file) and returns every validation problem found,
// matching spec.md §7: "print every violation; exit non-zero."
func Load(env map[string]string) (Config, []string) {
	var errs []string

	get := func(key, fallback string) string {
		if v, ok := env[key]; ok {
			return strings.TrimSpace(v)
		}
		return fallback
	}
	getBool := func(key string, fallback bool) bool {
		v, ok := env[key]
		if !ok {
			return fallback
		}
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	getInt := func(key string, fallback int) (int, string) {
		v, ok := env[key]
		if !ok || strings.TrimSpace(v) == "" {
			return fallback, ""
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fallback, key + " must be an integer"
		}
		return n, ""
	}

	cfg := Config{}

	// Mastodon
	cfg.Mastodon.InstanceURL = get("MASTODON_INSTANCE_URL", "")
	cfg.Mastodon.ClientID = get("MASTODON_CLIENT_ID", "")
	cfg.Mastodon.ClientSecret = get("MASTODON_CLIENT_SECRET", "")
	cfg.Mastodon.AccessToken = get("MASTODON_ACCESS_TOKEN", "")
	cfg.Mastodon.Mode = get("MASTODON_DATASOURCE_MODE", "stream")
	pollSecs, errMsg := getInt("MASTODON_POLL_INTERVAL_SECONDS", 30)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Mastodon.PollInterval = time.Duration(pollSecs) * time.Second

	if cfg.Mastodon.InstanceURL == "" {
		errs = append(errs, "MASTODON_INSTANCE_URL is required")
	} else if !strings.HasPrefix(cfg.Mastodon.InstanceURL, "https://") {
		errs = append(errs, "MASTODON_INSTANCE_URL must start with https://")
	}
	if cfg.Mastodon.ClientID == "" {
		errs = append(errs, "MASTODON_CLIENT_ID is required")
	}
	if cfg.Mastodon.ClientSecret == "" {
		errs = append(errs, "MASTODON_CLIENT_SECRET is required")
	}
	if cfg.Mastodon.AccessToken == "" {
		errs = append(errs, "MASTODON_ACCESS_TOKEN is required")
	}
	if cfg.Mastodon.Mode != "stream" && cfg.Mastodon.Mode != "polling" {
		errs = append(errs, "MASTODON_DATASOURCE_MODE must be 'stream' or 'polling'")
	}

	// RSS
	cfg.RSS.Enabled = getBool("RSS_ENABLED", false)
	cfg.RSS.UserAgent = get("RSS_USER_AGENT", "ViennaTalksBout/1.0")
	rssPoll, errMsg := getInt("RSS_POLL_INTERVAL", 600)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.RSS.PollInterval = time.Duration(rssPoll) * time.Second
	if feedsRaw, ok := env["RSS_FEEDS"]; ok {
		cfg.RSS.Feeds = parseFeeds(feedsRaw)
	} else {
		cfg.RSS.Feeds = defaultRSSFeeds
	}
	if cfg.RSS.Enabled {
		if len(cfg.RSS.Feeds) == 0 {
			errs = append(errs, "RSS_FEEDS must not be empty when RSS is enabled")
		}
		if cfg.RSS.PollInterval <= 0 {
			errs = append(errs, "RSS_POLL_INTERVAL must be positive")
		}
	}

	// Reddit
	cfg.Reddit.Enabled = getBool("REDDIT_ENABLED", false)
	cfg.Reddit.ClientID = get("REDDIT_CLIENT_ID", "")
	cfg.Reddit.ClientSecret = get("REDDIT_CLIENT_SECRET", "")
	cfg.Reddit.Username = get("REDDIT_USERNAME", "")
	cfg.Reddit.Password = get("REDDIT_PASSWORD", "")
	cfg.Reddit.IncludeComments = getBool("REDDIT_INCLUDE_COMMENTS", false)
	if subsRaw := get("REDDIT_SUBREDDITS", ""); subsRaw != "" {
		for _, s := range strings.Split(subsRaw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Reddit.Subreddits = append(cfg.Reddit.Subreddits, s)
			}
		}
	}
	redditPoll, errMsg := getInt("REDDIT_POLL_INTERVAL", 60)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Reddit.PollInterval = time.Duration(redditPoll) * time.Second
	if cfg.Reddit.Enabled {
		if cfg.Reddit.ClientID == "" || cfg.Reddit.ClientSecret == "" {
			errs = append(errs, "REDDIT_CLIENT_ID and REDDIT_CLIENT_SECRET are required when Reddit is enabled")
		}
		if len(cfg.Reddit.Subreddits) == 0 {
			errs = append(errs, "REDDIT_SUBREDDITS must not be empty when Reddit is enabled")
		}
	}

	// Extractor
	cfg.Extractor.APIKey = get("ANTHROPIC_API_KEY", "")
	cfg.Extractor.Model = get("ANTHROPIC_MODEL", "claude-haiku-4-5-20251001")
	maxRetries, errMsg := getInt("EXTRACTOR_MAX_RETRIES", 3)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Extractor.MaxRetries = maxRetries
	initialBackoffSecs, errMsg := getInt("EXTRACTOR_INITIAL_BACKOFF_SECONDS", 1)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Extractor.InitialBackoff = time.Duration(initialBackoffSecs) * time.Second
	if cfg.Extractor.APIKey == "" {
		errs = append(errs, "ANTHROPIC_API_KEY is required")
	}
	if cfg.Extractor.Model == "" {
		errs = append(errs, "ANTHROPIC_MODEL must not be empty")
	}

	// Buffer
	windowSecs, errMsg := getInt("BUFFER_WINDOW_SECONDS", 600)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Buffer.WindowSeconds = windowSecs
	maxBatch, errMsg := getInt("BUFFER_MAX_BATCH_SIZE", 100)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Buffer.MaxBatchSize = maxBatch
	if cfg.Buffer.WindowSeconds <= 0 {
		errs = append(errs, "BUFFER_WINDOW_SECONDS must be positive")
	}
	if cfg.Buffer.MaxBatchSize <= 0 {
		errs = append(errs, "BUFFER_MAX_BATCH_SIZE must be positive")
	}

	// Snapshot
	cfg.Snapshot.Dir = get("SNAPSHOT_DIR", "")
	retentionHours, errMsg := getInt("RETENTION_HOURS", 24)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Snapshot.RetentionHours = retentionHours

	// Health
	staleSecs, errMsg := getInt("STALE_STREAM_SECONDS", 1800)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Health.StaleStreamSeconds = time.Duration(staleSecs) * time.Second
	healthLogSecs, errMsg := getInt("HEALTH_LOG_INTERVAL", 300)
	if errMsg != "" {
		errs = append(errs, errMsg)
	}
	cfg.Health.LogInterval = time.Duration(healthLogSecs) * time.Second

	// Post log
	cfg.PostLog.DBPath = get("DB_PATH", "vienna_talks_bout.db")

	return cfg, errs
}

func parseFeeds(raw string) []Feed {
	var feeds []Feed
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "|", 2)
		if len(parts) != 2 {
			continue
		}
		feeds = append(feeds, Feed{
			URL:      strings.TrimSpace(parts[0]),
			Name:     strings.TrimSpace(parts[1]),
			Language: "de",
		})
	}
	return feeds
}

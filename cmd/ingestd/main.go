// Command ingestd runs the ingestion pipeline: it wires the configured
// datasources, the batching buffer, the topic extractor, and the
// topic store together and blocks until told to shut down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs" // adjusts GOMAXPROCS to the container's CPU quota

	"github.com/viennatalksbout/pipeline/internal/buffer"
	"github.com/viennatalksbout/pipeline/internal/config"
	"github.com/viennatalksbout/pipeline/internal/datasource"
	"github.com/viennatalksbout/pipeline/internal/extractor"
	"github.com/viennatalksbout/pipeline/internal/health"
	"github.com/viennatalksbout/pipeline/internal/mastodon"
	"github.com/viennatalksbout/pipeline/internal/pipeline"
	"github.com/viennatalksbout/pipeline/internal/postlog"
	"github.com/viennatalksbout/pipeline/internal/reddit"
	"github.com/viennatalksbout/pipeline/internal/rss"
	"github.com/viennatalksbout/pipeline/internal/snapshot"
	"github.com/viennatalksbout/pipeline/internal/topicstore"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// A .env file is an optional convenience for local runs; its
	// absence is not an error. Precedence still favors real
	// environment variables loaded below.
	_ = godotenv.Load()

	env := environMap()
	cfg, errs := config.Load(env)
	if len(errs) > 0 {
		logger.Error("invalid configuration")
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "  - "+e)
		}
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("ingestd exited with error", "error", err)
		os.Exit(1)
	}
}

func environMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			out[kv[:i]] = kv[i+1:]
		}
	}
	return out
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mon, err := health.New(cfg.Health.StaleStreamSeconds, logger)
	if err != nil {
		return fmt.Errorf("health monitor: %w", err)
	}
	go mon.Registry().ServeAsync(9090)

	store, err := topicstore.New(topicstore.DefaultOptions, logger)
	if err != nil {
		return fmt.Errorf("topic store: %w", err)
	}

	snapshots := snapshot.New(cfg.Snapshot.Dir, cfg.Snapshot.RetentionHours, logger)

	client, err := extractor.NewClient(cfg.Extractor.APIKey, cfg.Extractor.Model)
	if err != nil {
		return fmt.Errorf("extractor client: %w", err)
	}
	ext, err := extractor.New(client, extractor.Options{
		Model:          cfg.Extractor.Model,
		MaxRetries:     cfg.Extractor.MaxRetries,
		InitialBackoff: cfg.Extractor.InitialBackoff,
		RateLimit:      extractor.DefaultOptions.RateLimit,
	}, logger)
	if err != nil {
		return fmt.Errorf("extractor: %w", err)
	}

	db, err := postlog.Open(cfg.PostLog.DBPath, logger)
	if err != nil {
		return fmt.Errorf("post log: %w", err)
	}

	sources, multiSource := buildDatasources(ctx, cfg, db, logger)
	bufferSource := "multi"
	if !multiSource && len(sources) == 1 {
		bufferSource = sources[0].SourceID()
	}

	pl := pipeline.New(sources, ext, store, snapshots, mon, db, cfg.Health.LogInterval, logger)

	buf, err := buffer.New(cfg.Buffer.WindowSeconds, cfg.Buffer.MaxBatchSize, bufferSource, pl.OnBatch, logger)
	if err != nil {
		return fmt.Errorf("buffer: %w", err)
	}
	pl.AttachBuffer(buf)

	return pl.Run(ctx)
}

// buildDatasources constructs every datasource cfg enables, returning
// whether more than one is active (the buffer's "multi" source rule,
// spec.md §9).
func buildDatasources(ctx context.Context, cfg config.Config, db *postlog.Log, logger *slog.Logger) ([]datasource.Datasource, bool) {
	var sources []datasource.Datasource

	if cfg.Mastodon.Mode == "polling" {
		initialSinceID := ""
		if db != nil {
			if id, err := db.MaxPostID(ctx, "microblog:"+strings.TrimPrefix(strings.TrimPrefix(cfg.Mastodon.InstanceURL, "https://"), "http://")); err == nil {
				initialSinceID = id
			}
		}
		sources = append(sources, mastodon.NewPollingDatasource(cfg.Mastodon.InstanceURL, cfg.Mastodon.AccessToken, cfg.Mastodon.PollInterval, initialSinceID, logger))
	} else {
		sources = append(sources, mastodon.NewStreamDatasource(cfg.Mastodon.InstanceURL, cfg.Mastodon.AccessToken, logger))
	}

	if cfg.RSS.Enabled {
		feeds := make([]config.Feed, len(cfg.RSS.Feeds))
		copy(feeds, cfg.RSS.Feeds)
		sources = append(sources, rss.New(feeds, cfg.RSS.PollInterval, cfg.RSS.UserAgent, logger))
	}

	if cfg.Reddit.Enabled {
		sources = append(sources, reddit.New(reddit.Config{
			ClientID:        cfg.Reddit.ClientID,
			ClientSecret:    cfg.Reddit.ClientSecret,
			Username:        cfg.Reddit.Username,
			Password:        cfg.Reddit.Password,
			Subreddits:      cfg.Reddit.Subreddits,
			PollInterval:    cfg.Reddit.PollInterval,
			IncludeComments: cfg.Reddit.IncludeComments,
		}, logger))
	}

	return sources, len(sources) > 1
}

// Package extractor turns a batch of posts into trending topic rows
// via a forced-tool-use call to an Anthropic-compatible LLM, with
// bounded retry and drop-on-exhaustion (spec.md §4.G).
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/viennatalksbout/pipeline/internal/post"
	"github.com/viennatalksbout/pipeline/internal/topicstore"
	"github.com/viennatalksbout/pipeline/pkg/fn"
	"github.com/viennatalksbout/pipeline/pkg/resilience"
)

var tracer = otel.Tracer("viennatalksbout/extractor")

// DefaultModel matches the cost/latency tradeoff of the original: a
// small, cheap model is sufficient for short-batch topic extraction.
const DefaultModel = "claude-haiku-4-5-20251001"

// Options configures an Extractor's retry policy and outbound call rate.
type Options struct {
	Model          string
	MaxRetries     int // additional attempts beyond the first, spec.md default 3
	InitialBackoff time.Duration
	// RateLimit caps sustained calls/sec to the provider; zero disables
	// limiting. Burst defaults to 1 when unset.
	RateLimit resilience.LimiterOpts
}

// DefaultOptions mirrors the original's module-level constants. The rate
// limit matches Anthropic's default tier-1 requests-per-second budget
// closely enough to keep a bursty flush from tripping provider-side
// throttling before the circuit breaker even sees a failure.
var DefaultOptions = Options{
	Model:          DefaultModel,
	MaxRetries:     3,
	InitialBackoff: time.Second,
	RateLimit:      resilience.LimiterOpts{Rate: 4, Burst: 4},
}

// caller abstracts the Anthropic HTTP client so tests can substitute a
// fake without a real network call.
type caller interface {
	Call(ctx context.Context, userMessage string) (json.RawMessage, error)
}

// Extractor extracts trending topics from a post.Batch.
type Extractor struct {
	client  caller
	opts    Options
	breaker *resilience.Breaker
	limiter *resilience.Limiter // nil disables rate limiting
	log     *slog.Logger
}

// New constructs an Extractor around a Client, wrapping provider calls
// in a circuit breaker so a sustained provider outage stops burning
// retry budget on every batch, and in a token-bucket limiter so a burst
// of buffer flushes doesn't exceed the provider's own rate limit.
func New(client *Client, opts Options, log *slog.Logger) (*Extractor, error) {
	if opts.MaxRetries < 0 {
		return nil, fmt.Errorf("extractor: max_retries must be non-negative, got %d", opts.MaxRetries)
	}
	if opts.InitialBackoff <= 0 {
		return nil, fmt.Errorf("extractor: initial_backoff must be positive, got %v", opts.InitialBackoff)
	}
	if log == nil {
		log = slog.Default()
	}
	var limiter *resilience.Limiter
	if opts.RateLimit.Rate > 0 {
		limiter = resilience.NewLimiter(opts.RateLimit)
	}
	return &Extractor{
		client:  client,
		opts:    opts,
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		limiter: limiter,
		log:     log.With("component", "extractor"),
	}, nil
}

// BuildUserMessage formats a batch as numbered lines, one per post, in
// batch order — spec.md §4.G's message construction rule.
func BuildUserMessage(b post.Batch) string {
	lines := make([]string, len(b.Posts))
	for i, p := range b.Posts {
		lines[i] = fmt.Sprintf("[%d] %s", i+1, p.Text)
	}
	return strings.Join(lines, "\n")
}

// Extract returns the topics the provider extracted from batch, or an
// empty slice if the batch is empty or every retry attempt failed.
func (e *Extractor) Extract(ctx context.Context, batch post.Batch) []topicstore.ExtractedTopic {
	if batch.PostCount() == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "extractor.Extract")
	defer span.End()

	userMessage := BuildUserMessage(batch)
	opts := fn.RetryOpts{
		MaxAttempts: 1 + e.opts.MaxRetries,
		InitialWait: e.opts.InitialBackoff,
		MaxWait:     e.opts.InitialBackoff * (1 << uint(e.opts.MaxRetries)),
		Jitter:      false,
	}

	attempt := 0
	result := fn.Retry(ctx, opts, func(ctx context.Context) fn.Result[[]topicstore.ExtractedTopic] {
		attempt++
		callResult := resilience.CallResult(e.breaker, ctx, func(ctx context.Context) fn.Result[json.RawMessage] {
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return fn.Err[json.RawMessage](err)
				}
			}
			return fn.FromPair(e.client.Call(ctx, userMessage))
		})
		raw, err := callResult.Unwrap()
		if err != nil {
			e.log.Warn("extraction attempt failed", "attempt", attempt, "max_attempts", opts.MaxAttempts, "error", err)
			return fn.Err[[]topicstore.ExtractedTopic](err)
		}
		topics, err := ParseToolResponse(raw)
		if err != nil {
			e.log.Warn("extraction attempt failed", "attempt", attempt, "max_attempts", opts.MaxAttempts, "error", err)
			return fn.Err[[]topicstore.ExtractedTopic](err)
		}
		e.log.Info("extracted topics", "count", len(topics), "posts", batch.PostCount(), "attempt", attempt)
		return fn.Ok(topics)
	})

	topics, err := result.Unwrap()
	if err != nil {
		e.log.Error("topic extraction failed after all attempts, dropping batch",
			"attempts", opts.MaxAttempts, "post_count", batch.PostCount(),
			"window_start", batch.WindowStart, "window_end", batch.WindowEnd, "error", err)
		return nil
	}
	return topics
}

// Package health tracks pipeline liveness: time since the last post,
// extraction success/failure rates, and a derived "stream stale" flag
// (spec.md §4.K, §6's /api/health contract).
package health

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viennatalksbout/pipeline/pkg/metrics"
)

// DefaultStaleStreamSeconds matches the original's 30-minute default.
const DefaultStaleStreamSeconds = 1800

// Status is a point-in-time snapshot of the monitor's counters.
type Status struct {
	HasLastPost      bool
	LastPostTime     time.Time
	PostsReceived    int
	BatchesProcessed int
	BatchesFailed    int
	TopicsExtracted  int
	StreamStale      bool
}

// LLMSuccessRate is batches_processed / (batches_processed +
// batches_failed), defined as 1.0 when both are zero to avoid a NaN
// at startup.
func (s Status) LLMSuccessRate() float64 {
	total := s.BatchesProcessed + s.BatchesFailed
	if total == 0 {
		return 1.0
	}
	return float64(s.BatchesProcessed) / float64(total)
}

// Monitor is a thread-safe accumulator of pipeline health counters.
// Staleness is computed against a monotonic clock so it survives wall
// clock adjustments, matching the original's use of time.monotonic().
type Monitor struct {
	staleAfter time.Duration
	log        *slog.Logger
	reg        *metrics.Registry

	mPostsReceived    *metrics.Counter
	mBatchesProcessed *metrics.Counter
	mBatchesFailed    *metrics.Counter
	mTopicsExtracted  *metrics.Counter
	mStreamStale      *metrics.Gauge

	mu               sync.Mutex
	hasLastPost      bool
	lastPostMono     time.Time
	postsReceived    int
	batchesProcessed int
	batchesFailed    int
	topicsExtracted  int

	monotonicNow func() time.Time
}

// New constructs a Monitor. staleAfter must be positive. Counters are
// additionally mirrored into a pkg/metrics registry (the same
// hand-rolled Prometheus-style registry the teacher uses for its own
// per-stage counters), reachable via Registry() for an optional
// /metrics scrape endpoint.
func New(staleAfter time.Duration, log *slog.Logger) (*Monitor, error) {
	if staleAfter <= 0 {
		return nil, fmt.Errorf("health: stale_stream_seconds must be positive, got %v", staleAfter)
	}
	if log == nil {
		log = slog.Default()
	}
	reg := metrics.New()
	return &Monitor{
		staleAfter:        staleAfter,
		log:               log.With("component", "health"),
		reg:               reg,
		mPostsReceived:    reg.Counter("viennatalksbout_posts_received_total", "Posts received from any datasource"),
		mBatchesProcessed: reg.Counter("viennatalksbout_batches_processed_total", "Batches successfully extracted"),
		mBatchesFailed:    reg.Counter("viennatalksbout_batches_failed_total", "Batches dropped after retry exhaustion"),
		mTopicsExtracted:  reg.Counter("viennatalksbout_topics_extracted_total", "Topic rows extracted across all batches"),
		mStreamStale:      reg.Gauge("viennatalksbout_stream_stale", "1 if no post has been received within the stale window"),
		monotonicNow:      time.Now,
	}, nil
}

// Registry exposes the underlying metrics registry, e.g. to mount
// Registry().Handler() behind an operator-only /metrics endpoint.
func (m *Monitor) Registry() *metrics.Registry { return m.reg }

// RecordPost records that a post was received from any datasource.
func (m *Monitor) RecordPost() {
	m.mPostsReceived.Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasLastPost = true
	m.lastPostMono = m.monotonicNow()
	m.postsReceived++
}

// RecordBatchSuccess records a successful batch extraction.
func (m *Monitor) RecordBatchSuccess(topicCount int) {
	m.mBatchesProcessed.Inc()
	m.mTopicsExtracted.Add(int64(topicCount))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchesProcessed++
	m.topicsExtracted += topicCount
}

// RecordBatchFailure records a batch whose extraction exhausted retries.
func (m *Monitor) RecordBatchFailure() {
	m.mBatchesFailed.Inc()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchesFailed++
}

// Status returns a snapshot of current health metrics.
func (m *Monitor) Status() Status {
	now := m.monotonicNow()
	m.mu.Lock()
	defer m.mu.Unlock()

	stale := false
	if m.hasLastPost {
		stale = now.Sub(m.lastPostMono) > m.staleAfter
	}
	if stale {
		m.mStreamStale.Set(1)
	} else {
		m.mStreamStale.Set(0)
	}

	return Status{
		HasLastPost:      m.hasLastPost,
		LastPostTime:     m.lastPostMono,
		PostsReceived:    m.postsReceived,
		BatchesProcessed: m.batchesProcessed,
		BatchesFailed:    m.batchesFailed,
		TopicsExtracted:  m.topicsExtracted,
		StreamStale:      stale,
	}
}

// CheckAndLog logs a one-line health summary and warns on staleness,
// the body of the orchestrator's periodic health-log timer.
func (m *Monitor) CheckAndLog() Status {
	s := m.Status()
	m.log.Info("health",
		"posts", s.PostsReceived,
		"batches_ok", s.BatchesProcessed,
		"batches_fail", s.BatchesFailed,
		"topics", s.TopicsExtracted,
		"llm_success_rate", s.LLMSuccessRate(),
		"stale", s.StreamStale,
	)
	if s.StreamStale {
		m.log.Warn("stream appears stale", "stale_after", m.staleAfter)
	}
	return s
}

// Package buffer implements the time-windowed batching buffer that
// sits between datasources and the extractor (spec.md §4.F).
package buffer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/viennatalksbout/pipeline/internal/post"
)

// OnBatch is invoked with a Batch when a window expires. Never called
// for an empty window. Panics from the callback are recovered and
// logged so the buffer stays operational (spec.md §7).
type OnBatch func(post.Batch)

// Buffer is a thread-safe accumulator that flushes its in-flight posts
// into a Batch either on a timer or when max_batch_size is reached,
// matching the original's lock-scoping: the mutex guards only the
// in-flight slice and window_start; on_batch always runs outside it.
type Buffer struct {
	windowSeconds int
	maxBatchSize  int
	source        string
	onBatch       OnBatch
	log           *slog.Logger

	mu          sync.Mutex
	posts       []post.Post
	windowStart time.Time
	running     bool
	timer       *time.Timer
}

// New constructs a Buffer. windowSeconds and maxBatchSize must be
// positive, matching spec.md §8's boundary: invalid values reject at
// construction.
func New(windowSeconds, maxBatchSize int, source string, onBatch OnBatch, log *slog.Logger) (*Buffer, error) {
	if windowSeconds <= 0 {
		return nil, errInvalid("window_seconds", windowSeconds)
	}
	if maxBatchSize <= 0 {
		return nil, errInvalid("max_batch_size", maxBatchSize)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Buffer{
		windowSeconds: windowSeconds,
		maxBatchSize:  maxBatchSize,
		source:        source,
		onBatch:       onBatch,
		log:           log.With("component", "buffer", "source", source),
	}, nil
}

// Start begins the first collection window and schedules the first
// timer-driven flush. Idempotent.
func (b *Buffer) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.windowStart = time.Now().UTC()
	b.posts = nil
	b.mu.Unlock()

	b.scheduleFlush()
	b.log.Info("buffer started", "window_seconds", b.windowSeconds, "max_batch_size", b.maxBatchSize)
}

// Stop cancels the pending timer and performs a final flush. Idempotent.
func (b *Buffer) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	b.flush()
	b.log.Info("buffer stopped")
}

// AddPost appends a post to the in-flight window. Posts received
// before Start or after Stop are silently dropped. Triggers a
// synchronous early flush once max_batch_size is reached.
func (b *Buffer) AddPost(p post.Post) {
	shouldFlush := false
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.posts = append(b.posts, p)
	if len(b.posts) >= b.maxBatchSize {
		shouldFlush = true
	}
	b.mu.Unlock()

	if shouldFlush {
		b.log.Info("batch size cap reached, early flush", "max_batch_size", b.maxBatchSize)
		b.flush()
	}
}

func (b *Buffer) scheduleFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.timer = time.AfterFunc(time.Duration(b.windowSeconds)*time.Second, b.onTimer)
}

// onTimer fires once per window; flush reschedules the next timer
// itself, so a timer-driven flush and an early, cap-triggered flush
// go through the same rescheduling path.
func (b *Buffer) onTimer() {
	b.flush()
}

// flush swaps out the in-flight posts and replaces the pending timer
// with a fresh one window_seconds out, all under the mutex, so an
// early flush (cap-triggered, from AddPost) cancels the stale timer
// from the window it just closed instead of leaving it to fire
// against the new window at the old deadline (spec.md §9).
func (b *Buffer) flush() {
	now := time.Now().UTC()

	b.mu.Lock()
	posts := b.posts
	windowStart := b.windowStart
	b.posts = nil
	b.windowStart = now
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.running {
		b.timer = time.AfterFunc(time.Duration(b.windowSeconds)*time.Second, b.onTimer)
	}
	b.mu.Unlock()

	if len(posts) == 0 {
		return
	}

	batch := post.Batch{
		Posts:       posts,
		WindowStart: windowStart,
		WindowEnd:   now,
		Source:      b.source,
	}

	b.log.Info("flushing batch", "post_count", len(posts), "window_start", windowStart, "window_end", now)

	if b.onBatch == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic in on_batch callback", "error", r)
			}
		}()
		b.onBatch(batch)
	}()
}

func errInvalid(field string, v int) error {
	return fmt.Errorf("buffer: %s must be positive, got %d", field, v)
}

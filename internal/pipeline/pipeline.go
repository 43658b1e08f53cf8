// Package pipeline wires datasources, the batching buffer, the topic
// extractor, and the topic store into one running ingestion pipeline,
// and owns its graceful-shutdown sequencing (spec.md §4's component
// wiring, §7's shutdown order).
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/viennatalksbout/pipeline/internal/buffer"
	"github.com/viennatalksbout/pipeline/internal/datasource"
	"github.com/viennatalksbout/pipeline/internal/extractor"
	"github.com/viennatalksbout/pipeline/internal/health"
	"github.com/viennatalksbout/pipeline/internal/post"
	"github.com/viennatalksbout/pipeline/internal/postlog"
	"github.com/viennatalksbout/pipeline/internal/snapshot"
	"github.com/viennatalksbout/pipeline/internal/topicstore"
)

// defaultPostLogRetentionHours is the post log's own cleanup window,
// independent of cfg.Snapshot.RetentionHours: the original's
// persistence.cleanup_old_posts defaults to 48h and is never called
// with the snapshot retention value (_examples/original_source/
// viennatalksbout/persistence.py, ingest.py).
const defaultPostLogRetentionHours = 48

// Pipeline orchestrates: Datasources → Buffer → Extractor → TopicStore.
type Pipeline struct {
	datasources       []datasource.Datasource
	buf               *buffer.Buffer
	extractor         *extractor.Extractor
	store             *topicstore.Store
	snapshots         *snapshot.Manager
	health            *health.Monitor
	log               *slog.Logger
	postLog           *postlog.Log // nil disables durability
	healthLogInterval time.Duration

	cancelHealth context.CancelFunc
}

// New assembles a Pipeline from already-constructed components. db may
// be nil to run without durable post persistence. The buffer is wired
// in afterward via AttachBuffer, since its constructor needs this
// Pipeline's OnBatch method as its flush callback.
func New(
	datasources []datasource.Datasource,
	ext *extractor.Extractor,
	store *topicstore.Store,
	snapshots *snapshot.Manager,
	mon *health.Monitor,
	db *postlog.Log,
	healthLogInterval time.Duration,
	log *slog.Logger,
) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		datasources:       datasources,
		extractor:         ext,
		store:             store,
		snapshots:         snapshots,
		health:            mon,
		postLog:           db,
		healthLogInterval: healthLogInterval,
		log:               log.With("component", "pipeline"),
	}
}

// AttachBuffer wires the batching buffer into the pipeline. Call once,
// before Run, with a buffer constructed against this Pipeline's
// OnBatch method.
func (p *Pipeline) AttachBuffer(buf *buffer.Buffer) {
	p.buf = buf
}

// Health exposes the health monitor for the HTTP status endpoint.
func (p *Pipeline) Health() *health.Monitor { return p.health }

// Store exposes the topic store for the HTTP topics endpoint.
func (p *Pipeline) Store() *topicstore.Store { return p.store }

// Run starts every component, blocks until ctx is canceled, then runs
// the graceful shutdown sequence. Mirrors the original's start()/stop()
// pair collapsed around one context.
func (p *Pipeline) Run(ctx context.Context) error {
	p.log.Info("starting ingestion pipeline")

	p.buf.Start()
	p.log.Info("post buffer started")

	if p.postLog != nil {
		p.recoverUnprocessedPosts(ctx)
	}

	for _, ds := range p.datasources {
		if err := ds.Start(p.onPost, p.onStreamError); err != nil {
			p.log.Error("failed to start datasource", "source", ds.SourceID(), "error", err)
			continue
		}
		p.log.Info("started datasource", "source", ds.SourceID())
	}

	healthCtx, cancel := context.WithCancel(ctx)
	p.cancelHealth = cancel
	go p.runHealthLog(healthCtx)

	p.log.Info("pipeline running")
	<-ctx.Done()

	p.shutdown(context.Background())
	return nil
}

func (p *Pipeline) recoverUnprocessedPosts(ctx context.Context) {
	posts, err := p.postLog.GetUnprocessedPosts(ctx)
	if err != nil {
		p.log.Error("failed to recover unprocessed posts", "error", err)
		return
	}
	for _, post := range posts {
		p.buf.AddPost(post)
	}
	if len(posts) > 0 {
		p.log.Info("recovered unprocessed posts from previous run", "count", len(posts))
	}
}

// onPost is the callback handed to every datasource: record health,
// dedup against the durable log, then hand off to the buffer.
func (p *Pipeline) onPost(post post.Post) {
	p.health.RecordPost()

	if p.postLog != nil {
		isNew, err := p.postLog.SavePost(context.Background(), post)
		if err != nil {
			// Durability is lost for this post, but it still belongs in
			// the current window: fall through to the buffer instead of
			// dropping it (spec.md §7).
			p.log.Error("failed to save post", "id", post.ID, "error", err)
		} else if !isNew {
			p.log.Debug("duplicate post skipped", "id", post.ID)
			return
		}
	}

	p.buf.AddPost(post)
}

func (p *Pipeline) onStreamError(err error) {
	p.log.Error("datasource stream error", "error", err)
}

// OnBatch is the buffer's flush callback: extract topics, merge into
// the store, snapshot, and mark posts processed.
func (p *Pipeline) OnBatch(batch post.Batch) {
	p.log.Info("processing batch",
		"post_count", batch.PostCount(),
		"window_start", batch.WindowStart,
		"window_end", batch.WindowEnd)

	topics := p.extractor.Extract(context.Background(), batch)

	if len(topics) > 0 {
		p.health.RecordBatchSuccess(len(topics))
		p.store.Merge(topics, batch.Source, time.Now())
		p.log.Info("merged topics into store", "count", len(topics), "active", p.store.Count())
	} else if batch.PostCount() > 0 {
		p.health.RecordBatchFailure()
		p.log.Warn("no topics extracted from batch", "post_count", batch.PostCount())
	} else {
		p.health.RecordBatchSuccess(0)
	}

	if p.snapshots != nil {
		now := time.Now()
		if _, err := p.snapshots.Save(p.store.Current(), now); err != nil {
			p.log.Error("failed to save snapshot", "error", err)
		}
		if _, err := p.snapshots.Cleanup(now); err != nil {
			p.log.Error("failed to clean up old snapshots", "error", err)
		}
	}

	if p.postLog != nil {
		if err := p.postLog.MarkBatchProcessed(context.Background(), batch.IDs()); err != nil {
			p.log.Error("failed to mark batch processed", "error", err)
		}
	}
}

func (p *Pipeline) runHealthLog(ctx context.Context) {
	if p.healthLogInterval <= 0 {
		return
	}
	ticker := time.NewTicker(p.healthLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.health.CheckAndLog()
		}
	}
}

// shutdown stops datasources first (no more incoming posts), then the
// buffer (final flush through the extractor), cancels the health
// timer, saves a last snapshot, and closes the post log. Order matches
// the original's stop() sequencing.
func (p *Pipeline) shutdown(ctx context.Context) {
	p.log.Info("shutting down pipeline")

	for _, ds := range p.datasources {
		ds.Stop()
		p.log.Info("datasource stopped", "source", ds.SourceID())
	}

	p.buf.Stop()
	p.log.Info("buffer stopped, final flush complete")

	if p.cancelHealth != nil {
		p.cancelHealth()
	}

	if p.snapshots != nil {
		if _, err := p.snapshots.Save(p.store.Current(), time.Now()); err != nil {
			p.log.Error("failed to save final snapshot", "error", err)
		} else {
			p.log.Info("final snapshot saved")
		}
	}

	p.health.CheckAndLog()

	if p.postLog != nil {
		if _, err := p.postLog.CleanupOldPosts(ctx, defaultPostLogRetentionHours); err != nil {
			p.log.Error("failed to clean up old posts", "error", err)
		}
		if err := p.postLog.Close(); err != nil {
			p.log.Error("failed to close post log", "error", err)
		} else {
			p.log.Info("post log closed")
		}
	}

	p.log.Info("pipeline shutdown complete")
}

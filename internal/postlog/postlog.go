// Package postlog is the durable post log: a single-file, WAL-journaled
// embedded store used for crash-recovery re-ingest and cross-restart
// dedup (spec.md §4.J).
package postlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/viennatalksbout/pipeline/internal/post"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id          TEXT PRIMARY KEY,
	text        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	language    TEXT,
	source      TEXT NOT NULL,
	received_at TEXT NOT NULL,
	processed   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_posts_unprocessed ON posts (processed) WHERE processed = 0;
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts (created_at);
`

// Log is a serialized-write, concurrently-readable post log. No
// example repo in this module's retrieval pack drives a single-file
// WAL store (the pack's stores are Postgres/Neo4j/Qdrant, all
// client/server); modernc.org/sqlite is introduced specifically for
// this component, see DESIGN.md.
type Log struct {
	db  *sql.DB
	mu  sync.Mutex // serializes writes, mirroring the original's connection-level lock
	log *slog.Logger
}

// Open opens (creating if absent) the post log at path, in WAL mode.
func Open(path string, log *slog.Logger) (*Log, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("postlog: mkdir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("postlog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single-writer file; matches check_same_thread=False + our own mutex

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("postlog: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postlog: apply schema: %w", err)
	}

	l := &Log{db: db, log: log.With("component", "postlog", "path", path)}
	l.log.Info("post log opened")
	return l, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	err := l.db.Close()
	l.log.Info("post log closed")
	return err
}

// SavePost persists a post, returning whether it was newly inserted
// (false for a duplicate id, an idempotent no-op per spec.md §4.J).
func (l *Log) SavePost(ctx context.Context, p post.Post) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO posts (id, text, created_at, language, source, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Text, p.CreatedAt.Format(time.RFC3339), p.Language, p.Source, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("postlog: save post %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postlog: rows affected: %w", err)
	}
	return n == 1, nil
}

// GetUnprocessedPosts returns every row with processed=0, ordered by
// created_at, used to replay into the buffer after a crash.
func (l *Log) GetUnprocessedPosts(ctx context.Context) ([]post.Post, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, text, created_at, language, source FROM posts WHERE processed = 0 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postlog: query unprocessed: %w", err)
	}
	defer rows.Close()

	var out []post.Post
	for rows.Next() {
		var p post.Post
		var createdAt string
		var language sql.NullString
		if err := rows.Scan(&p.ID, &p.Text, &createdAt, &language, &p.Source); err != nil {
			return nil, fmt.Errorf("postlog: scan row: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("postlog: parse created_at for %s: %w", p.ID, err)
		}
		p.CreatedAt = t
		p.Language = language.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkBatchProcessed flips processed to 1 for every given id. No-op
// on an empty slice.
func (l *Log) MarkBatchProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postlog: begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE posts SET processed = 1 WHERE id = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("postlog: prepare update: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("postlog: mark processed %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// CleanupOldPosts deletes processed rows older than retentionHours,
// returning the count removed.
func (l *Log) CleanupOldPosts(ctx context.Context, retentionHours int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(retentionHours) * time.Hour).Format(time.RFC3339)
	res, err := l.db.ExecContext(ctx, `DELETE FROM posts WHERE processed = 1 AND received_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postlog: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postlog: rows affected: %w", err)
	}
	if n > 0 {
		l.log.Info("cleaned up old processed posts", "count", n)
	}
	return int(n), nil
}

// MaxPostID returns the greatest id whose source matches sourcePrefix
// exactly, ordering by id length first and then lexicographically (so
// numeric ids compare by value), used by the REST-poll datasource to
// seed its since_id cursor across restarts. Scoped to one source's ids
// only: ids are non-numeric composite strings for several sources
// (e.g. "rss:feed:entry"), so a cross-source MAX(id) would be
// meaningless; see SPEC_FULL.md's supplemented max_post_id note.
func (l *Log) MaxPostID(ctx context.Context, sourcePrefix string) (string, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id FROM posts WHERE source = ? ORDER BY length(id) DESC, id DESC LIMIT 1`, sourcePrefix)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("postlog: max_post_id: %w", err)
	}
	return id, nil
}

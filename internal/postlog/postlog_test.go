package postlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/viennatalksbout/pipeline/internal/post"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posts.db")
	l, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func testPost(id, source string) post.Post {
	return post.Post{
		ID:        id,
		Text:      "hello",
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Source:    source,
	}
}

func TestSavePost_IdempotentOnDuplicateID(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	p := testPost("a", "src")

	isNew, err := l.SavePost(ctx, p)
	if err != nil {
		t.Fatalf("SavePost: %v", err)
	}
	if !isNew {
		t.Fatal("expected first save to report new")
	}

	isNew, err = l.SavePost(ctx, p)
	if err != nil {
		t.Fatalf("SavePost (dup): %v", err)
	}
	if isNew {
		t.Fatal("expected duplicate save to report not-new")
	}
}

func TestGetUnprocessedPosts_OrderedByCreatedAt(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	later := testPost("b", "src")
	later.CreatedAt = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	earlier := testPost("a", "src")
	earlier.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := l.SavePost(ctx, later); err != nil {
		t.Fatalf("SavePost: %v", err)
	}
	if _, err := l.SavePost(ctx, earlier); err != nil {
		t.Fatalf("SavePost: %v", err)
	}

	posts, err := l.GetUnprocessedPosts(ctx)
	if err != nil {
		t.Fatalf("GetUnprocessedPosts: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 unprocessed posts, got %d", len(posts))
	}
	if posts[0].ID != "a" || posts[1].ID != "b" {
		t.Errorf("expected chronological order, got %s, %s", posts[0].ID, posts[1].ID)
	}
}

func TestMarkBatchProcessed_ExcludesFromUnprocessed(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	if _, err := l.SavePost(ctx, testPost("a", "src")); err != nil {
		t.Fatalf("SavePost: %v", err)
	}
	if _, err := l.SavePost(ctx, testPost("b", "src")); err != nil {
		t.Fatalf("SavePost: %v", err)
	}

	if err := l.MarkBatchProcessed(ctx, []string{"a"}); err != nil {
		t.Fatalf("MarkBatchProcessed: %v", err)
	}

	posts, err := l.GetUnprocessedPosts(ctx)
	if err != nil {
		t.Fatalf("GetUnprocessedPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "b" {
		t.Fatalf("expected only 'b' unprocessed, got %+v", posts)
	}
}

func TestMaxPostID_ScopedToSource(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	if _, err := l.SavePost(ctx, testPost("microblog:a:100", "microblog:a")); err != nil {
		t.Fatalf("SavePost: %v", err)
	}
	if _, err := l.SavePost(ctx, testPost("microblog:b:999", "microblog:b")); err != nil {
		t.Fatalf("SavePost: %v", err)
	}

	id, err := l.MaxPostID(ctx, "microblog:a")
	if err != nil {
		t.Fatalf("MaxPostID: %v", err)
	}
	if id != "microblog:a:100" {
		t.Errorf("expected scoped max id, got %q", id)
	}
}

func TestMaxPostID_NoRowsReturnsEmpty(t *testing.T) {
	l := openTestLog(t)
	id, err := l.MaxPostID(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("MaxPostID: %v", err)
	}
	if id != "" {
		t.Errorf("expected empty string for no rows, got %q", id)
	}
}

func TestCleanupOldPosts_OnlyRemovesProcessed(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	if _, err := l.SavePost(ctx, testPost("a", "src")); err != nil {
		t.Fatalf("SavePost: %v", err)
	}
	if _, err := l.SavePost(ctx, testPost("b", "src")); err != nil {
		t.Fatalf("SavePost: %v", err)
	}
	if err := l.MarkBatchProcessed(ctx, []string{"a"}); err != nil {
		t.Fatalf("MarkBatchProcessed: %v", err)
	}

	// retentionHours=0 means "older than now". received_at and the cutoff
	// are both second-precision RFC3339 strings compared with strict <,
	// so wait past the insert's second before cleaning up.
	time.Sleep(1100 * time.Millisecond)
	removed, err := l.CleanupOldPosts(ctx, 0)
	if err != nil {
		t.Fatalf("CleanupOldPosts: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected exactly 1 processed row removed, got %d", removed)
	}

	posts, err := l.GetUnprocessedPosts(ctx)
	if err != nil {
		t.Fatalf("GetUnprocessedPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "b" {
		t.Fatalf("expected unprocessed 'b' to survive cleanup, got %+v", posts)
	}
}

// Package post defines the normalized message type shared by every
// datasource, the buffer, and the extractor.
package post

import "time"

// Post is an immutable normalized message from any source. Datasources
// construct these directly; nothing downstream mutates a Post.
type Post struct {
	ID        string
	Text      string
	CreatedAt time.Time
	Language  string // ISO 639-1, empty if absent
	Source    string // e.g. "microblog:host.tld", "news:orf", "reddit:vienna"
}

// Batch is an immutable ordered group of Posts collected over one
// buffering window.
type Batch struct {
	Posts       []Post
	WindowStart time.Time
	WindowEnd   time.Time
	Source      string // datasource id, or "multi" when fed by more than one
}

// PostCount returns the number of posts in the batch.
func (b Batch) PostCount() int { return len(b.Posts) }

// IDs returns the ids of every post in the batch, in order.
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Posts))
	for i, p := range b.Posts {
		ids[i] = p.ID
	}
	return ids
}

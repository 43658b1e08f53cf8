// Package mastodon implements two interchangeable Mastodon datasources
// — an SSE stream and a REST poller — sharing one status validation,
// filtering, and normalization pipeline (spec.md §4.B/§4.C).
package mastodon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/viennatalksbout/pipeline/internal/post"
	"github.com/viennatalksbout/pipeline/internal/textclean"
)

// status is the subset of a Mastodon API status object this pipeline
// cares about. IDs are accepted as either JSON strings or numbers since
// different instance software disagrees on the wire type.
type status struct {
	ID        json.RawMessage `json:"id"`
	Content   *string         `json:"content"`
	CreatedAt *string         `json:"created_at"`
	Language  *string         `json:"language"`
	Sensitive bool            `json:"sensitive"`
	Reblog    json.RawMessage `json:"reblog"`
}

// validateStatus reports whether raw decodes into a status carrying the
// required fields, logging the specific reason for rejection.
func validateStatus(raw json.RawMessage, log *slog.Logger) (*status, bool) {
	var s status
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Warn("status is not a valid object", "error", err)
		return nil, false
	}
	id, ok := statusID(s.ID)
	if !ok || id == "" {
		log.Warn("status missing required id field")
		return nil, false
	}
	if s.Content == nil {
		log.Warn("status missing or null content field", "id", id)
		return nil, false
	}
	if s.CreatedAt == nil {
		log.Warn("status missing or null created_at field", "id", id)
		return nil, false
	}
	return &s, true
}

// filterStatus applies the keep/drop rules: reblogs, sensitive content,
// and posts that are empty once HTML is stripped are all dropped.
func filterStatus(s *status) bool {
	if len(s.Reblog) > 0 && string(s.Reblog) != "null" {
		return false
	}
	if s.Sensitive {
		return false
	}
	return strings.TrimSpace(textclean.StripHTML(*s.Content)) != ""
}

// parseStatus converts a validated, filtered status into a normalized
// Post. A created_at that fails to parse falls back to the current time
// rather than dropping the post, matching the original's behavior.
func parseStatus(s *status, source string, now func() time.Time) post.Post {
	id, _ := statusID(s.ID)

	createdAt, err := time.Parse(time.RFC3339, strings.Replace(*s.CreatedAt, "Z", "+00:00", 1))
	if err != nil {
		createdAt, err = time.Parse(time.RFC3339Nano, strings.Replace(*s.CreatedAt, "Z", "+00:00", 1))
	}
	if err != nil {
		createdAt = now()
	}

	language := ""
	if s.Language != nil {
		language = strings.TrimSpace(*s.Language)
	}

	return post.Post{
		ID:        id,
		Text:      textclean.StripHTML(*s.Content),
		CreatedAt: createdAt,
		Language:  language,
		Source:    source,
	}
}

func statusID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatInt(int64(f), 10), true
	}
	return "", false
}

// sourceID derives the datasource identifier from an instance URL, e.g.
// "microblog:wien.rocks", matching spec.md §4.B's Post.source format.
func sourceID(instanceURL string) string {
	d := strings.TrimPrefix(strings.TrimPrefix(instanceURL, "https://"), "http://")
	return fmt.Sprintf("microblog:%s", d)
}

// Package snapshot persists and restores hourly JSON snapshots of the
// topic store (spec.md §4.I).
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/viennatalksbout/pipeline/internal/topicstore"
)

// ErrNotFound is returned by Load when the requested snapshot file
// does not exist, distinct from any other read failure per spec.md §4.I.
var ErrNotFound = errors.New("snapshot: not found")

// fileRecord mirrors the JSON shape written by Save: the original's
// ensure_ascii=false, indent=2 document.
type fileRecord struct {
	Timestamp string       `json:"timestamp"`
	Topics    []topicEntry `json:"topics"`
}

type topicEntry struct {
	Name             string  `json:"name"`
	Score            float64 `json:"score"`
	FirstSeen        string  `json:"first_seen"`
	LastSeen         string  `json:"last_seen"`
	Source           string  `json:"source"`
	State            string  `json:"state"`
	BatchesSinceSeen int     `json:"batches_since_seen"`
}

// Manager writes and prunes hourly snapshot files under Dir. A nil
// Manager (Dir == "") disables persistence, matching the original's
// "snapshot_dir not configured" behavior.
type Manager struct {
	Dir            string
	RetentionHours int
	log            *slog.Logger
}

// New constructs a Manager. dir == "" disables snapshotting entirely.
func New(dir string, retentionHours int, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if retentionHours <= 0 {
		retentionHours = 24
	}
	return &Manager{Dir: dir, RetentionHours: retentionHours, log: log.With("component", "snapshot")}
}

func fileName(t time.Time) string {
	return "topics_" + t.UTC().Format("20060102_15") + ".json"
}

// Save writes the current topics to the hour-floor file for now.
// Two saves within the same UTC hour overwrite each other. Returns
// "" if snapshotting is disabled.
func (m *Manager) Save(topics []topicstore.Topic, now time.Time) (string, error) {
	if m == nil || m.Dir == "" {
		return "", nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	sorted := make([]topicstore.Topic, len(topics))
	copy(sorted, topics)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	rec := fileRecord{Timestamp: now.Format(time.RFC3339), Topics: make([]topicEntry, len(sorted))}
	for i, t := range sorted {
		rec.Topics[i] = topicEntry{
			Name:             t.Name,
			Score:            t.Score,
			FirstSeen:        t.FirstSeen.Format(time.RFC3339),
			LastSeen:         t.LastSeen.Format(time.RFC3339),
			Source:           t.Source,
			State:            string(t.State),
			BatchesSinceSeen: t.BatchesSinceSeen,
		}
	}

	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: mkdir %s: %w", m.Dir, err)
	}
	path := filepath.Join(m.Dir, fileName(now))
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	m.log.Info("saved snapshot", "path", path, "topics", len(sorted))
	return path, nil
}

// Load reads a snapshot file, recomputing normalized names and
// skipping structurally invalid rows with a warning.
func (m *Manager) Load(path string) ([]topicstore.Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("snapshot: invalid format in %s: %w", path, err)
	}

	topics := make([]topicstore.Topic, 0, len(rec.Topics))
	for _, e := range rec.Topics {
		t, err := entryToTopic(e)
		if err != nil {
			m.log.Warn("skipping malformed topic in snapshot", "path", path, "error", err)
			continue
		}
		topics = append(topics, t)
	}
	return topics, nil
}

func entryToTopic(e topicEntry) (topicstore.Topic, error) {
	if e.Name == "" {
		return topicstore.Topic{}, fmt.Errorf("missing name")
	}
	firstSeen, err := time.Parse(time.RFC3339, e.FirstSeen)
	if err != nil {
		return topicstore.Topic{}, fmt.Errorf("invalid first_seen: %w", err)
	}
	lastSeen, err := time.Parse(time.RFC3339, e.LastSeen)
	if err != nil {
		return topicstore.Topic{}, fmt.Errorf("invalid last_seen: %w", err)
	}
	state := topicstore.State(e.State)
	switch state {
	case topicstore.Entering, topicstore.Growing, topicstore.Shrinking:
	default:
		return topicstore.Topic{}, fmt.Errorf("invalid state %q", e.State)
	}
	return topicstore.Topic{
		Name:             e.Name,
		NormalizedName:   topicstore.Normalize(e.Name),
		Score:            e.Score,
		FirstSeen:        firstSeen,
		LastSeen:         lastSeen,
		Source:           e.Source,
		State:            state,
		BatchesSinceSeen: e.BatchesSinceSeen,
	}, nil
}

// Cleanup deletes snapshot files strictly older than now minus the
// retention window, per spec.md §9's resolved strict-less-than
// boundary (a file exactly at the cutoff hour is kept).
func (m *Manager) Cleanup(now time.Time) (int, error) {
	if m == nil || m.Dir == "" {
		return 0, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	cutoff := now.Add(-time.Duration(m.RetentionHours) * time.Hour)

	entries, err := os.ReadDir(m.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("snapshot: readdir %s: %w", m.Dir, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "topics_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, "topics_"), ".json")
		fileTime, err := time.Parse("20060102_15", stamp)
		if err != nil {
			continue // malformed filenames are left alone
		}
		fileTime = fileTime.UTC()
		if fileTime.Before(cutoff) {
			if err := os.Remove(filepath.Join(m.Dir, name)); err != nil {
				m.log.Warn("error removing old snapshot", "file", name, "error", err)
				continue
			}
			removed++
			m.log.Debug("removed old snapshot", "file", name)
		}
	}
	if removed > 0 {
		m.log.Info("cleaned up old snapshots", "count", removed)
	}
	return removed, nil
}

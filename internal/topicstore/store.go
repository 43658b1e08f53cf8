package topicstore

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Options configures a Store's lifecycle thresholds and is passed to
// New (cmd/ingestd uses DefaultOptions); invalid values are rejected by New so
// construction fails fast per spec.md §8 boundaries.
type Options struct {
	MaxActive   int
	StaleAfter  int
	DecayFactor float64
	MinScore    float64
}

// DefaultOptions mirrors the original's module-level defaults.
var DefaultOptions = Options{
	MaxActive:   20,
	StaleAfter:  3,
	DecayFactor: 0.5,
	MinScore:    0.05,
}

// Store is a thread-safe, bounded map of active topics keyed by their
// normalized name, following the pattern spec.md §9 calls for: "a map
// normalized_name -> Topic behind a single mutex; reads return deep
// copies; never expose internal pointers."
type Store struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	topics map[string]*Topic

	now func() time.Time // injectable clock, mirrors pkg/resilience.Breaker
}

// New constructs a Store, rejecting the same invalid configurations
// the original constructor rejects.
func New(opts Options, log *slog.Logger) (*Store, error) {
	if opts.MaxActive <= 0 {
		return nil, fmt.Errorf("topicstore: max_active must be positive, got %d", opts.MaxActive)
	}
	if opts.StaleAfter <= 0 {
		return nil, fmt.Errorf("topicstore: stale_after must be positive, got %d", opts.StaleAfter)
	}
	if !(opts.DecayFactor > 0 && opts.DecayFactor < 1) {
		return nil, fmt.Errorf("topicstore: decay_factor must be in (0,1), got %v", opts.DecayFactor)
	}
	if opts.MinScore <= 0 {
		return nil, fmt.Errorf("topicstore: min_score must be positive, got %v", opts.MinScore)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		opts:   opts,
		log:    log.With("component", "topicstore"),
		topics: make(map[string]*Topic),
		now:    time.Now,
	}, nil
}

// Merge folds a batch of extracted topics into the store per spec.md
// §4.H: matched topics refresh and move to Growing; unseen topics age
// toward Shrinking and eventual removal; the active cap is enforced
// last.
func (s *Store) Merge(extracted []ExtractedTopic, source string, now time.Time) {
	if now.IsZero() {
		now = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(extracted))
	for _, et := range extracted {
		norm := Normalize(et.Topic)
		if norm == "" {
			continue
		}
		seen[norm] = true

		if t, ok := s.topics[norm]; ok {
			t.Score = et.Score
			t.LastSeen = now
			t.BatchesSinceSeen = 0
			if t.State == Entering || t.State == Shrinking {
				t.State = Growing
			}
			continue
		}
		s.topics[norm] = &Topic{
			Name:           strings.TrimSpace(et.Topic),
			NormalizedName: norm,
			Score:          et.Score,
			FirstSeen:      now,
			LastSeen:       now,
			Source:         source,
			State:          Entering,
		}
	}

	var toRemove []string
	for norm, t := range s.topics {
		if seen[norm] {
			continue
		}
		t.BatchesSinceSeen++
		if (t.State == Entering || t.State == Growing) && t.BatchesSinceSeen >= s.opts.StaleAfter {
			t.State = Shrinking
		}
		if t.State == Shrinking {
			t.Score *= s.opts.DecayFactor
			if t.Score < s.opts.MinScore {
				toRemove = append(toRemove, norm)
			}
		}
	}
	for _, norm := range toRemove {
		s.log.Debug("topic disappeared", "name", s.topics[norm].Name)
		delete(s.topics, norm)
	}

	s.enforceCap()
}

// enforceCap must be called with mu held.
func (s *Store) enforceCap() {
	for len(s.topics) > s.opts.MaxActive {
		var lowestNorm string
		var lowestScore float64
		first := true
		for norm, t := range s.topics {
			if first || t.Score < lowestScore {
				lowestNorm = norm
				lowestScore = t.Score
				first = false
			}
		}
		s.log.Debug("evicting topic (cap)", "name", s.topics[lowestNorm].Name, "score", lowestScore)
		delete(s.topics, lowestNorm)
	}
}

// Current returns a detached, score-descending snapshot of every
// active topic. Safe to use without holding the store's lock.
func (s *Store) Current() []Topic {
	s.mu.Lock()
	out := make([]Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, *t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Count returns the number of active topics.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

// LoadSnapshot replaces the store's contents with the given topics,
// recomputing normalized names, so a caller can warm-start the store
// from a persisted snapshot. The pipeline in this module does not call it.
func (s *Store) LoadSnapshot(topics []Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = make(map[string]*Topic, len(topics))
	for _, t := range topics {
		norm := Normalize(t.Name)
		t.NormalizedName = norm
		cp := t
		s.topics[norm] = &cp
	}
}


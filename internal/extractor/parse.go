package extractor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viennatalksbout/pipeline/internal/topicstore"
)

// toolResponse is the top-level shape the record_topics tool_use input
// must have; spec.md §4.G calls this "strict at top level".
type toolResponse struct {
	Topics []json.RawMessage `json:"topics"`
}

type rawTopicRow struct {
	Topic json.RawMessage `json:"topic"`
	Score json.RawMessage `json:"score"`
	Count json.RawMessage `json:"count"`
}

// ParseToolResponse parses the record_topics tool input, lenient at
// row level (invalid rows skipped with a warning) and strict at the
// top level (missing/malformed "topics" is an error, subject to
// retry), per spec.md §4.G.
func ParseToolResponse(raw json.RawMessage) ([]topicstore.ExtractedTopic, error) {
	var tr toolResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, fmt.Errorf("extractor: invalid tool response: %w", err)
	}
	if tr.Topics == nil {
		return nil, fmt.Errorf("extractor: missing 'topics' key in tool response")
	}

	var out []topicstore.ExtractedTopic
	for i, entryRaw := range tr.Topics {
		var row rawTopicRow
		if err := json.Unmarshal(entryRaw, &row); err != nil {
			slog.Warn("skipping non-object topic entry", "index", i)
			continue
		}

		var topic string
		if err := json.Unmarshal(row.Topic, &topic); err != nil || strings.TrimSpace(topic) == "" {
			slog.Warn("skipping topic: invalid or empty name", "index", i)
			continue
		}

		score, ok := coerceFloat(row.Score)
		if !ok {
			slog.Warn("skipping topic: invalid score", "topic", topic)
			continue
		}
		score = clamp(score, 0, 1)

		count, ok := coerceInt(row.Count)
		if !ok {
			slog.Warn("skipping topic: invalid count", "topic", topic)
			continue
		}
		if count < 0 {
			count = 0
		}

		out = append(out, topicstore.ExtractedTopic{
			Topic: strings.TrimSpace(topic),
			Score: score,
			Count: count,
		})
	}
	return out, nil
}

func coerceFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var f2 float64
		if _, err := fmt.Sscanf(s, "%g", &f2); err == nil {
			return f2, true
		}
	}
	return 0, false
}

func coerceInt(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var f2 float64
		if _, err := fmt.Sscanf(s, "%g", &f2); err == nil {
			return int(f2), true
		}
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

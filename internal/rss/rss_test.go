package rss

import (
	"testing"
	"time"

	"github.com/viennatalksbout/pipeline/internal/config"
)

func fixedNow() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

func TestFirstNonEmpty(t *testing.T) {
	cases := []struct {
		vals []string
		want string
	}{
		{[]string{"", "b", "c"}, "b"},
		{[]string{"", "  ", ""}, ""},
		{[]string{"a", "b"}, "a"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := firstNonEmpty(c.vals...); got != c.want {
			t.Errorf("firstNonEmpty(%v) = %q, want %q", c.vals, got, c.want)
		}
	}
}

func TestParseFeedDate_FallsBackToNowOnUnparseable(t *testing.T) {
	got := parseFeedDate("not a date", fixedNow)
	if !got.Equal(fixedNow()) {
		t.Errorf("expected fallback to now, got %v", got)
	}
}

func TestParseFeedDate_ParsesRFC1123Z(t *testing.T) {
	got := parseFeedDate("Mon, 02 Jan 2006 15:04:05 -0700", fixedNow)
	want := time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseFeedDate RFC1123Z = %v, want %v", got, want)
	}
}

func TestParseFeedDate_ParsesRFC3339(t *testing.T) {
	got := parseFeedDate("2024-03-01T10:00:00Z", fixedNow)
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("parseFeedDate RFC3339 = %v, want %v", got, want)
	}
}

func TestEntryToPost_ComposesTitleAndSummary(t *testing.T) {
	feed := config.Feed{Name: "derstandard", Language: "de"}
	p, ok := entryToPost(feed, "guid-1", "Titel", "<p>Zusammenfassung</p>", "2024-03-01T10:00:00Z", fixedNow)
	if !ok {
		t.Fatal("expected entryToPost to succeed")
	}
	if p.Text != "Titel. Zusammenfassung" {
		t.Errorf("unexpected text: %q", p.Text)
	}
	if p.ID != "rss:derstandard:guid-1" {
		t.Errorf("unexpected id: %q", p.ID)
	}
	if p.Source != "news:derstandard" {
		t.Errorf("unexpected source: %q", p.Source)
	}
	if p.Language != "de" {
		t.Errorf("unexpected language: %q", p.Language)
	}
}

func TestEntryToPost_TitleOnly(t *testing.T) {
	feed := config.Feed{Name: "f"}
	p, ok := entryToPost(feed, "1", "Nur ein Titel", "", "", fixedNow)
	if !ok {
		t.Fatal("expected success")
	}
	if p.Text != "Nur ein Titel" {
		t.Errorf("unexpected text: %q", p.Text)
	}
}

func TestEntryToPost_EmptyTitleAndSummaryIsRejected(t *testing.T) {
	feed := config.Feed{Name: "f"}
	_, ok := entryToPost(feed, "1", "", "", "", fixedNow)
	if ok {
		t.Fatal("expected rejection when both title and summary are empty")
	}
}

func TestEntryToPost_UsesNowWhenDateUnparseable(t *testing.T) {
	feed := config.Feed{Name: "f"}
	p, ok := entryToPost(feed, "1", "Titel", "", "garbage-date", fixedNow)
	if !ok {
		t.Fatal("expected success")
	}
	if !p.CreatedAt.Equal(fixedNow()) {
		t.Errorf("expected fallback timestamp, got %v", p.CreatedAt)
	}
}

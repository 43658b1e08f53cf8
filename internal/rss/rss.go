// Package rss polls a fixed set of RSS feeds on an interval, using
// conditional GET (ETag / If-Modified-Since) and per-feed id dedup to
// emit only new entries (spec.md §4.D).
package rss

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/viennatalksbout/pipeline/internal/config"
	"github.com/viennatalksbout/pipeline/internal/datasource"
	"github.com/viennatalksbout/pipeline/internal/post"
	"github.com/viennatalksbout/pipeline/internal/textclean"

	"golang.org/x/time/rate"
)

// rssDoc is the subset of RSS 2.0 / Atom this pipeline understands.
// Both formats are tagged onto one struct since feedparser-equivalent
// behavior (accept either) is expected of every configured source.
type rssDoc struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	GUID    string `xml:"guid"`
	Link    string `xml:"link"`
	Title   string `xml:"title"`
	Summary string `xml:"description"`
	PubDate string `xml:"pubDate"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Link      struct {
		Href string `xml:"href,attr"`
	} `xml:"link"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
}

type feedState struct {
	etag         string
	lastModified string
	seenIDs      map[string]bool
}

// Datasource polls every configured feed on PollInterval.
type Datasource struct {
	feeds        []config.Feed
	pollInterval time.Duration
	userAgent    string
	client       *http.Client
	limiter      *rate.Limiter
	log          *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	state  map[string]*feedState
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an RSS Datasource. The limiter caps outbound requests to
// one per 2 seconds per process, matching the teacher's rate-limited
// HTTP client pattern (engine/scraper/youtube.go) adapted to this
// source's politeness needs.
func New(feeds []config.Feed, pollInterval time.Duration, userAgent string, log *slog.Logger) *Datasource {
	if log == nil {
		log = slog.Default()
	}
	return &Datasource{
		feeds:        feeds,
		pollInterval: pollInterval,
		userAgent:    userAgent,
		client:       &http.Client{Timeout: 30 * time.Second},
		limiter:      rate.NewLimiter(rate.Every(2*time.Second), 1),
		log:          log.With("component", "rss"),
		now:          time.Now,
		state:        make(map[string]*feedState),
	}
}

// SourceID identifies this datasource across every configured feed; the
// per-entry Post.Source carries the specific feed name instead.
func (d *Datasource) SourceID() string { return "news:rss" }

// Start begins polling every feed in a background goroutine.
func (d *Datasource) Start(onPost datasource.OnPost, onError datasource.OnError) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()
		for {
			for _, f := range d.feeds {
				if ctx.Err() != nil {
					return
				}
				if err := d.pollFeed(ctx, f, onPost); err != nil {
					d.log.Error("error polling feed", "feed", f.Name, "error", err)
					if onError != nil {
						onError(err)
					}
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	names := make([]string, len(d.feeds))
	for i, f := range d.feeds {
		names[i] = f.Name
	}
	d.log.Info("started rss polling", "feeds", names)
	return nil
}

// Stop cancels polling and waits for the worker to exit.
func (d *Datasource) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.log.Info("stopped rss polling")
}

func (d *Datasource) pollFeed(ctx context.Context, feed config.Feed, onPost datasource.OnPost) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	st, ok := d.state[feed.Name]
	if !ok {
		st = &feedState{seenIDs: make(map[string]bool)}
		d.state[feed.Name] = st
	}
	etag, lastMod := st.etag, st.lastModified
	d.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return fmt.Errorf("rss: build request for %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("rss: fetch %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("rss: %s returned status %d", feed.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rss: read %s: %w", feed.Name, err)
	}

	var doc rssDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("rss: parse %s: %w", feed.Name, err)
	}

	d.mu.Lock()
	if et := resp.Header.Get("ETag"); et != "" {
		st.etag = et
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		st.lastModified = lm
	}
	previousIDs := st.seenIDs
	currentIDs := make(map[string]bool, len(doc.Channel.Items)+len(doc.Entries))
	d.mu.Unlock()

	var newCount int
	emit := func(entryID, title, summary, dateStr string) {
		if entryID == "" {
			return // no id or link to key off of: skip per spec's dedup contract
		}
		currentIDs[entryID] = true
		if previousIDs[entryID] {
			return
		}
		p, ok := entryToPost(feed, entryID, title, summary, dateStr, d.now)
		if !ok {
			return
		}
		newCount++
		onPost(p)
	}

	for _, item := range doc.Channel.Items {
		id := firstNonEmpty(item.GUID, item.Link)
		emit(id, item.Title, item.Summary, item.PubDate)
	}
	for _, e := range doc.Entries {
		id := firstNonEmpty(e.ID, e.Link.Href)
		date := firstNonEmpty(e.Published, e.Updated)
		emit(id, e.Title, e.Summary, date)
	}

	d.mu.Lock()
	st.seenIDs = currentIDs
	d.mu.Unlock()

	if newCount > 0 {
		d.log.Info("feed poll complete", "feed", feed.Name, "new_entries", newCount)
	}
	return nil
}

func entryToPost(feed config.Feed, entryID, title, summaryRaw, dateStr string, now func() time.Time) (post.Post, bool) {
	summary := ""
	if summaryRaw != "" {
		summary = textclean.StripHTML(summaryRaw)
	}
	title = strings.TrimSpace(title)

	var text string
	switch {
	case title != "" && summary != "":
		text = title + ". " + summary
	case title != "":
		text = title
	default:
		text = summary
	}
	if strings.TrimSpace(text) == "" {
		return post.Post{}, false
	}

	createdAt := parseFeedDate(dateStr, now)

	return post.Post{
		ID:        fmt.Sprintf("rss:%s:%s", feed.Name, entryID),
		Text:      text,
		CreatedAt: createdAt,
		Language:  feed.Language,
		Source:    "news:" + feed.Name,
	}, true
}

// feedDateLayouts covers RFC 822 (RSS pubDate) and RFC 3339 (Atom).
var feedDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
}

func parseFeedDate(s string, now func() time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range feedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return now()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

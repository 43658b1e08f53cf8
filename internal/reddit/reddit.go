// Package reddit polls a configured set of subreddits for new
// submissions and comments via Reddit's OAuth API, normalizing them
// into Posts (spec.md §4.E). The polling/dedup shape follows
// cmd/scraper-reddit/reddit/scraper.go; OAuth token exchange and the
// bot/markdown filtering follow the original's PRAW-based datasource
// since no OAuth or Reddit client library is present in the retrieval
// pack (see DESIGN.md).
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/viennatalksbout/pipeline/internal/datasource"
	"github.com/viennatalksbout/pipeline/internal/post"
	"github.com/viennatalksbout/pipeline/internal/textclean"
)

// botAuthors are skipped outright, matching the original's BOT_AUTHORS set.
var botAuthors = map[string]bool{
	"AutoModerator": true,
	"[deleted]":     true,
}

// Config carries the credentials and targets this datasource needs.
type Config struct {
	ClientID        string
	ClientSecret    string
	Username        string
	Password        string
	UserAgent       string
	Subreddits      []string
	PollInterval    time.Duration
	IncludeComments bool
}

// Datasource polls Reddit submissions (and optionally comments) for the
// configured subreddits.
type Datasource struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
	now    func() time.Time

	mu                    sync.Mutex
	token                 string
	tokenExpiry           time.Time
	newestSubmissionName  string
	newestCommentName     string

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Datasource from cfg.
func New(cfg Config, log *slog.Logger) *Datasource {
	if log == nil {
		log = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "viennatalksbout-ingest/1.0"
	}
	return &Datasource{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With("component", "reddit", "subreddits", strings.Join(cfg.Subreddits, "+")),
		now:    time.Now,
	}
}

// SourceID returns e.g. "reddit:wien+austria".
func (d *Datasource) SourceID() string {
	return "reddit:" + strings.Join(d.cfg.Subreddits, "+")
}

// Start begins polling in a background goroutine.
func (d *Datasource) Start(onPost datasource.OnPost, onError datasource.OnError) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()
		for {
			if err := d.pollOnce(ctx, onPost); err != nil && ctx.Err() == nil {
				d.log.Error("reddit polling error", "error", err)
				if onError != nil {
					onError(err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	d.log.Info("started reddit polling", "include_comments", d.cfg.IncludeComments)
	return nil
}

// Stop cancels polling and waits for the worker to exit.
func (d *Datasource) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.log.Info("stopped reddit polling")
}

func (d *Datasource) pollOnce(ctx context.Context, onPost datasource.OnPost) error {
	if err := d.pollSubmissions(ctx, onPost); err != nil {
		return err
	}
	if d.cfg.IncludeComments {
		if err := d.pollComments(ctx, onPost); err != nil {
			return err
		}
	}
	return nil
}

func (d *Datasource) pollSubmissions(ctx context.Context, onPost datasource.OnPost) error {
	subredditPath := strings.Join(d.cfg.Subreddits, "+")
	listing, err := d.getListing(ctx, fmt.Sprintf("/r/%s/new", subredditPath), url.Values{"limit": {"100"}})
	if err != nil {
		return fmt.Errorf("reddit: listing submissions: %w", err)
	}

	d.mu.Lock()
	newestSeen := d.newestSubmissionName
	d.mu.Unlock()

	fresh := takeUntilSeen(listing.Data.Children, newestSeen)
	for i := len(fresh) - 1; i >= 0; i-- { // oldest-first
		child := fresh[i]
		if !validSubmission(child.Data) {
			continue
		}
		onPost(submissionToPost(child.Data, d.SourceID()))
	}

	if len(listing.Data.Children) > 0 {
		d.mu.Lock()
		d.newestSubmissionName = listing.Data.Children[0].Data.Name
		d.mu.Unlock()
	}
	return nil
}

func (d *Datasource) pollComments(ctx context.Context, onPost datasource.OnPost) error {
	subredditPath := strings.Join(d.cfg.Subreddits, "+")
	listing, err := d.getListing(ctx, fmt.Sprintf("/r/%s/comments", subredditPath), url.Values{"limit": {"100"}})
	if err != nil {
		return fmt.Errorf("reddit: listing comments: %w", err)
	}

	d.mu.Lock()
	newestSeen := d.newestCommentName
	d.mu.Unlock()

	fresh := takeUntilSeen(listing.Data.Children, newestSeen)
	for i := len(fresh) - 1; i >= 0; i-- {
		child := fresh[i]
		if !validComment(child.Data) {
			continue
		}
		onPost(commentToPost(child.Data, d.SourceID()))
	}

	if len(listing.Data.Children) > 0 {
		d.mu.Lock()
		d.newestCommentName = listing.Data.Children[0].Data.Name
		d.mu.Unlock()
	}
	return nil
}

func takeUntilSeen(children []listingChild, newestSeen string) []listingChild {
	if newestSeen == "" {
		return children
	}
	for i, c := range children {
		if c.Data.Name == newestSeen {
			return children[:i]
		}
	}
	return children
}

func validSubmission(d listingData) bool {
	if d.SelfText == "[removed]" || d.SelfText == "[deleted]" {
		return false
	}
	if d.Stickied {
		return false
	}
	if botAuthors[authorName(d.Author)] {
		return false
	}
	title := textclean.StripMarkdown(d.Title)
	body := ""
	if d.SelfText != "" {
		body = textclean.StripMarkdown(d.SelfText)
	}
	return strings.TrimSpace(title) != "" || strings.TrimSpace(body) != ""
}

func validComment(d listingData) bool {
	if d.Body == "[removed]" || d.Body == "[deleted]" {
		return false
	}
	if botAuthors[authorName(d.Author)] {
		return false
	}
	return len(strings.TrimSpace(textclean.StripMarkdown(d.Body))) >= 10
}

func authorName(author string) string {
	if author == "" {
		return "[deleted]"
	}
	return author
}

func submissionToPost(d listingData, source string) post.Post {
	title := textclean.StripMarkdown(d.Title)
	selftext := textclean.StripMarkdown(d.SelfText)

	var text string
	switch {
	case title != "" && selftext != "":
		text = title + ". " + selftext
	case title != "":
		text = title
	default:
		text = selftext
	}

	name := d.Name
	if name == "" {
		name = "t3_" + d.ID
	}

	return post.Post{
		ID:        "reddit:" + name,
		Text:      text,
		CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
		Language:  "de",
		Source:    source,
	}
}

func commentToPost(d listingData, source string) post.Post {
	name := d.Name
	if name == "" {
		name = "t1_" + d.ID
	}
	return post.Post{
		ID:        "reddit:" + name,
		Text:      textclean.StripMarkdown(d.Body),
		CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
		Language:  "de",
		Source:    source,
	}
}

// --- Reddit OAuth + listing API ---

const (
	tokenURL = "https://www.reddit.com/api/v1/access_token"
	baseURL  = "https://oauth.reddit.com"
)

func (d *Datasource) getListing(ctx context.Context, path string, params url.Values) (*listingResponse, error) {
	tok, err := d.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	reqURL := baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reddit: http %d from %s", resp.StatusCode, path)
	}

	var listing listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("reddit: decode listing: %w", err)
	}
	return &listing, nil
}

// accessToken returns a cached OAuth token, renewing it via the
// password grant when expired.
func (d *Datasource) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.token != "" && d.now().Before(d.tokenExpiry) {
		tok := d.token
		d.mu.Unlock()
		return tok, nil
	}
	d.mu.Unlock()

	form := url.Values{
		"grant_type": {"password"},
		"username":   {d.cfg.Username},
		"password":   {d.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.cfg.ClientID, d.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.cfg.UserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("reddit: token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reddit: token request status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("reddit: decode token response: %w", err)
	}

	d.mu.Lock()
	d.token = tokenResp.AccessToken
	d.tokenExpiry = d.now().Add(time.Duration(tokenResp.ExpiresIn)*time.Second - time.Minute)
	d.mu.Unlock()
	return tokenResp.AccessToken, nil
}

type listingResponse struct {
	Data struct {
		Children []listingChild `json:"children"`
	} `json:"data"`
}

type listingChild struct {
	Kind string      `json:"kind"`
	Data listingData `json:"data"`
}

type listingData struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Author     string  `json:"author"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Body       string  `json:"body"`
	Stickied   bool    `json:"stickied"`
	CreatedUTC float64 `json:"created_utc"`
}

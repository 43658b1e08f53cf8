package mastodon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/viennatalksbout/pipeline/internal/datasource"
)

// PollingDatasource polls a Mastodon instance's public local timeline
// via the REST API, an alternative to StreamDatasource for instances
// that don't support streaming (spec.md §4.C).
type PollingDatasource struct {
	instanceURL  string
	accessToken  string
	pollInterval time.Duration
	client       *http.Client
	log          *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	sinceID string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPollingDatasource builds a PollingDatasource. initialSinceID seeds
// the cursor across restarts (typically loaded from the post log).
func NewPollingDatasource(instanceURL, accessToken string, pollInterval time.Duration, initialSinceID string, log *slog.Logger) *PollingDatasource {
	if log == nil {
		log = slog.Default()
	}
	return &PollingDatasource{
		instanceURL:  instanceURL,
		accessToken:  accessToken,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: 30 * time.Second},
		log:          log.With("component", "mastodon-polling", "source", sourceID(instanceURL)),
		now:          time.Now,
		sinceID:      initialSinceID,
	}
}

// SourceID returns this datasource's stable identifier.
func (d *PollingDatasource) SourceID() string { return sourceID(d.instanceURL) }

// Start begins polling in a background goroutine.
func (d *PollingDatasource) Start(onPost datasource.OnPost, onError datasource.OnError) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()
		for {
			if err := d.pollOnce(ctx, onPost); err != nil && ctx.Err() == nil {
				d.log.Error("polling error", "error", err)
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
	d.log.Info("started mastodon polling")
	return nil
}

// Stop cancels polling and waits for the worker to exit.
func (d *PollingDatasource) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.log.Info("stopped mastodon polling")
}

func (d *PollingDatasource) pollOnce(ctx context.Context, onPost datasource.OnPost) error {
	url := fmt.Sprintf("%s/api/v1/timelines/public?local=true", d.instanceURL)
	d.mu.Lock()
	sinceID := d.sinceID
	d.mu.Unlock()
	if sinceID != "" {
		url += "&since_id=" + sinceID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("mastodon poll: build request: %w", err)
	}
	if d.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.accessToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("mastodon poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("mastodon poll: unexpected status %d", resp.StatusCode)
	}

	var statuses []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		return fmt.Errorf("mastodon poll: decode timeline: %w", err)
	}

	// The API returns newest-first; process oldest-first for chronological order.
	for i := len(statuses) - 1; i >= 0; i-- {
		s, ok := validateStatus(statuses[i], d.log)
		if !ok {
			continue
		}
		if !filterStatus(s) {
			continue
		}
		onPost(parseStatus(s, d.SourceID(), d.now))
	}

	if len(statuses) > 0 {
		if id, ok := newestID(statuses[0]); ok {
			d.mu.Lock()
			d.sinceID = id
			d.mu.Unlock()
		}
	}
	return nil
}

func newestID(raw json.RawMessage) (string, bool) {
	var s status
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return statusID(s.ID)
}

package mastodon

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/viennatalksbout/pipeline/internal/datasource"
)

// StreamDatasource consumes a Mastodon instance's public:local SSE
// timeline, reconnecting with exponential backoff on any error
// (spec.md §4.B).
type StreamDatasource struct {
	instanceURL string
	accessToken string
	client      *http.Client
	log         *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamDatasource builds a StreamDatasource for instanceURL.
func NewStreamDatasource(instanceURL, accessToken string, log *slog.Logger) *StreamDatasource {
	if log == nil {
		log = slog.Default()
	}
	return &StreamDatasource{
		instanceURL: strings.TrimRight(instanceURL, "/"),
		accessToken: accessToken,
		client:      &http.Client{}, // no overall timeout: the body is a long-lived stream
		log:         log.With("component", "mastodon-stream", "source", sourceID(instanceURL)),
		now:         time.Now,
	}
}

// SourceID returns this datasource's stable identifier.
func (d *StreamDatasource) SourceID() string { return sourceID(d.instanceURL) }

// Start begins streaming in a background goroutine.
func (d *StreamDatasource) Start(onPost datasource.OnPost, onError datasource.OnError) error {
	d.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx, onPost, onError)
	d.log.Info("started mastodon stream")
	return nil
}

// Stop cancels the stream connection and waits for the worker to exit.
func (d *StreamDatasource) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	d.log.Info("stopped mastodon stream")
}

func (d *StreamDatasource) run(ctx context.Context, onPost datasource.OnPost, onError datasource.OnError) {
	defer close(d.done)
	backoff := datasource.NewBackoff(time.Second, 60*time.Second)

	for {
		if ctx.Err() != nil {
			return
		}
		err := d.connectOnce(ctx, onPost, backoff)
		if err != nil && err != context.Canceled {
			d.log.Error("mastodon stream aborted", "error", err)
			if onError != nil {
				onError(err)
			}
		}
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff.Next()):
		}
	}
}

func (d *StreamDatasource) connectOnce(ctx context.Context, onPost datasource.OnPost, backoff *datasource.Backoff) error {
	url := fmt.Sprintf("%s/api/v1/streaming/public?local=true", d.instanceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("mastodon stream: build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if d.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.accessToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("mastodon stream: connect: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mastodon stream: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventType string
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		switch {
		case line == "":
			eventType = ""
			continue
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
			continue
		case strings.HasPrefix(line, ":"):
			continue // comment / keep-alive
		case strings.HasPrefix(line, "data: "):
			if eventType != "update" {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			s, ok := validateStatus([]byte(data), d.log)
			if !ok {
				continue
			}
			backoff.Reset() // a well-formed event means the connection is healthy again
			if !filterStatus(s) {
				continue
			}
			p := parseStatus(s, d.SourceID(), d.now)
			onPost(p)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mastodon stream: read: %w", err)
	}
	return fmt.Errorf("mastodon stream: connection closed")
}

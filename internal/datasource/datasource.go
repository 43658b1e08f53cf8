// Package datasource defines the contract every ingestion source
// implements, and holds the shared retry/backoff helper used by the
// streaming and polling implementations.
package datasource

import (
	"math/rand"
	"time"

	"github.com/viennatalksbout/pipeline/internal/post"
)

// OnPost is invoked once per normalized Post a datasource produces.
// Implementations must not block the caller for longer than a buffer
// append.
type OnPost func(post.Post)

// OnError receives transport or decoding errors. It is informational:
// returning from OnError must never terminate the datasource.
type OnError func(error)

// Datasource is the capability set every source implements: start
// async delivery, stop and wait for workers to exit, and report a
// stable source id.
type Datasource interface {
	Start(onPost OnPost, onError OnError) error
	Stop()
	SourceID() string
}

// Backoff implements the reconnect policy spec.md §4.B requires of the
// SSE datasource: start at initial, double on every failure, cap at
// max, reset to initial on success.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	current time.Duration
}

// NewBackoff builds a Backoff seeded at its initial delay.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max, current: initial}
}

// Next returns the delay to sleep before the next attempt and doubles
// the internal delay for next time, capped at Max.
func (b *Backoff) Next() time.Duration {
	d := b.current
	next := b.current * 2
	if next > b.Max {
		next = b.Max
	}
	b.current = next
	return jitter(d)
}

// Reset restores the backoff to its initial delay, called after any
// successful event.
func (b *Backoff) Reset() {
	b.current = b.Initial
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
}

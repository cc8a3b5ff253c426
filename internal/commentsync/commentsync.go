// Package commentsync polls the forum for its comment list and re-renders
// the display whenever the list changes.
//
// Typical usage:
//
//	loop := commentsync.New(client, display, commentsync.Options{})
//	go loop.Run(ctx)
package commentsync

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/anon-forum/internal/forum"
	"github.com/gosuda/anon-forum/internal/render"
)

const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultInterval     = 1500 * time.Millisecond
)

// Fetcher reads the full comment collection.
type Fetcher interface {
	ListComments(ctx context.Context) ([]forum.Comment, error)
}

// Display receives every accepted view.
type Display interface {
	Show(v render.ListView)
}

// DisplayFunc adapts a function to Display. A nil DisplayFunc discards.
type DisplayFunc func(render.ListView)

func (f DisplayFunc) Show(v render.ListView) {
	if f != nil {
		f(v)
	}
}

// Options tunes the loop.
type Options struct {
	// InitialDelay is the wait before the first poll. Default: 500ms.
	InitialDelay time.Duration
	// Interval is the polling period. Default: 1500ms.
	Interval time.Duration
}

func (o *Options) defaults() {
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
}

// Loop is the comment sync loop. It is safe for concurrent use.
type Loop struct {
	fetch   Fetcher
	display Display
	opts    Options

	// mu guards signature and serialises apply, so the display always
	// shows the last accepted snapshot.
	mu        sync.Mutex
	signature string
	hasSig    bool

	// kick asks Run for an out-of-schedule poll.
	kick chan struct{}

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
}

// New creates a Loop. Call Run to start polling.
func New(f Fetcher, d Display, opts Options) *Loop {
	opts.defaults()
	return &Loop{fetch: f, display: d, opts: opts, kick: make(chan struct{}, 1)}
}

// Signature summarises an ordered comment list. Two lists have the same
// signature exactly when they hold the same (id, content, created_at)
// tuples in the same order.
func Signature(comments []forum.Comment) string {
	tuples := make([][3]string, len(comments))
	for i, c := range comments {
		tuples[i] = [3]string{string(c.ID), c.Content, c.CreatedAt}
	}
	b, _ := json.Marshal(tuples)
	return string(b)
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Checks:  l.checks.Load(),
		Changes: l.changes.Load(),
		Errors:  l.errors.Load(),
	}
}

// Poll fetches the comment list once and re-renders if it changed. On
// error nothing is touched and the error is returned.
func (l *Loop) Poll(ctx context.Context) (bool, error) {
	l.checks.Add(1)
	comments, err := l.fetch.ListComments(ctx)
	if err != nil {
		l.errors.Add(1)
		return false, err
	}
	sig := Signature(comments)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasSig && sig == l.signature {
		return false, nil
	}
	l.signature = sig
	l.hasSig = true
	l.changes.Add(1)
	l.display.Show(render.Build(comments))
	return true, nil
}

// Refresh asks Run to poll as soon as the current poll, if any, returns.
// Requests made while one is already pending are merged.
func (l *Loop) Refresh() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Run polls once after the initial delay and on every interval until ctx is
// cancelled. Both schedules start when Run is called. Poll errors are
// dropped; the next tick fires as scheduled. Polls never overlap: ticks that
// fall due while a poll is in flight are skipped, and a slow response is
// still applied when it arrives.
func (l *Loop) Run(ctx context.Context) {
	log.Debug().Dur("initial_delay", l.opts.InitialDelay).Dur("interval", l.opts.Interval).Msg("[sync] started")

	first := time.NewTimer(l.opts.InitialDelay)
	defer first.Stop()
	ticker := time.NewTicker(l.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("[sync] stopped")
			return
		case <-first.C:
			l.tick(ctx)
		case <-ticker.C:
			l.tick(ctx)
		case <-l.kick:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	if _, err := l.Poll(ctx); err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Msg("[sync] poll failed")
	}
}

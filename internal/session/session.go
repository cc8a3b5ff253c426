// Package session is the page controller. A Controller owns the forum
// client, the display name store, the comment sync loop and the bulk
// scheduler for one session; nothing is kept in package globals.
package session

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/anon-forum/internal/bulk"
	"github.com/gosuda/anon-forum/internal/commentsync"
	"github.com/gosuda/anon-forum/internal/forum"
	"github.com/gosuda/anon-forum/internal/nickname"
)

// EmptyCommentNotice is shown when the user submits a blank comment.
const EmptyCommentNotice = "Please enter a comment before submitting."

// ErrEmptyComment is returned by Submit for blank input.
var ErrEmptyComment = errors.New("empty comment")

// API is the part of the forum client the controller needs.
type API interface {
	commentsync.Fetcher
	PostForm(ctx context.Context, content string) error
}

// Names resolves the display name.
type Names interface {
	Resolve() string
	Save(name string) (string, error)
}

type Config struct {
	Sync      commentsync.Options
	BulkClock bulk.Clock
}

// Controller drives one forum session.
type Controller struct {
	api   API
	names Names
	sync  *commentsync.Loop
	bulk  *bulk.Scheduler
}

// New wires a controller. Every accepted comment list is passed to display.
func New(api API, names Names, display commentsync.Display, cfg Config) *Controller {
	c := &Controller{api: api, names: names}
	c.sync = commentsync.New(api, display, cfg.Sync)
	var opts []bulk.Option
	if cfg.BulkClock != nil {
		opts = append(opts, bulk.WithClock(cfg.BulkClock))
	}
	c.bulk = bulk.New(c.send, opts...)
	return c
}

// Run polls the forum until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	c.sync.Run(ctx)
}

// Refresh schedules an immediate sync cycle on the running loop.
func (c *Controller) Refresh() { c.sync.Refresh() }

// Poll runs one sync cycle immediately.
func (c *Controller) Poll(ctx context.Context) (bool, error) {
	return c.sync.Poll(ctx)
}

// SyncStats reports the sync loop counters.
func (c *Controller) SyncStats() commentsync.Stats { return c.sync.Stats() }

// Compose prefixes text with the current display name.
func (c *Controller) Compose(text string) string {
	return "[" + c.names.Resolve() + "] " + text
}

// Submit posts a comment typed by the user. Blank input is rejected with
// ErrEmptyComment before anything is sent.
func (c *Controller) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyComment
	}
	return c.send(ctx, text)
}

// send is the shared submit path for manual and bulk posts.
func (c *Controller) send(ctx context.Context, text string) error {
	content := c.Compose(text)
	if err := c.api.PostForm(ctx, content); err != nil {
		return err
	}
	log.Debug().Int("len", len(content)).Msg("[forum] posted")
	return nil
}

// DisplayName returns the current display name.
func (c *Controller) DisplayName() string { return c.names.Resolve() }

// SetDisplayName stores a new display name and returns the effective one.
func (c *Controller) SetDisplayName(name string) string {
	saved, err := c.names.Save(name)
	if err != nil {
		log.Warn().Err(err).Msg("[name] save failed; keeping it in memory only")
	}
	return saved
}

// StartBulk begins a bulk run, replacing any active one. ctx bounds the
// sends of the whole run.
func (c *Controller) StartBulk(ctx context.Context, p bulk.Params) error {
	c.names.Resolve()
	return c.bulk.Start(ctx, p)
}

// StopBulk cancels the active bulk run, if any.
func (c *Controller) StopBulk() { c.bulk.Stop() }

// BulkStatus reports the bulk scheduler state.
func (c *Controller) BulkStatus() bulk.Status { return c.bulk.Status() }

// WaitBulk blocks until the active bulk run ends.
func (c *Controller) WaitBulk(ctx context.Context) error { return c.bulk.Wait(ctx) }

var _ API = (*forum.Client)(nil)
var _ Names = (*nickname.Store)(nil)

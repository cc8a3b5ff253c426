package session

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/anon-forum/internal/bulk"
	"github.com/gosuda/anon-forum/internal/commentsync"
	"github.com/gosuda/anon-forum/internal/forum"
	"github.com/gosuda/anon-forum/internal/nickname"
	"github.com/gosuda/anon-forum/internal/render"
)

type fakeAPI struct {
	mu       sync.Mutex
	posts    []string
	comments []forum.Comment
	postErr  error
}

func (f *fakeAPI) ListComments(ctx context.Context) ([]forum.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.comments, nil
}

func (f *fakeAPI) PostForm(ctx context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, content)
	return f.postErr
}

func (f *fakeAPI) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posts...)
}

type memKV struct {
	m map[string]string
}

func (k *memKV) Get(key string) (string, error) { return k.m[key], nil }
func (k *memKV) Set(key, v string) error        { k.m[key] = v; return nil }

type brokenKV struct{}

func (brokenKV) Get(string) (string, error) { return "", errors.New("storage disabled") }
func (brokenKV) Set(string, string) error   { return errors.New("storage disabled") }

// stepClock runs every callback on its own goroutine right away.
type stepClock struct{}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }

func (stepClock) AfterFunc(d time.Duration, f func()) bulk.Timer {
	go f()
	return noopTimer{}
}

func newController(api *fakeAPI, kv nickname.KV) *Controller {
	return New(api, nickname.NewStore(kv), commentsync.DisplayFunc(func(render.ListView) {}), Config{BulkClock: stepClock{}})
}

func TestSubmit_EmptyNeverPosts(t *testing.T) {
	api := &fakeAPI{}
	c := newController(api, &memKV{m: map[string]string{}})
	for _, in := range []string{"", "   ", "\n\t "} {
		require.ErrorIs(t, c.Submit(context.Background(), in), ErrEmptyComment)
	}
	assert.Empty(t, api.sent())
}

func TestSubmit_PrefixesDisplayName(t *testing.T) {
	api := &fakeAPI{}
	c := newController(api, &memKV{m: map[string]string{nickname.Key: "alice"}})
	require.NoError(t, c.Submit(context.Background(), "  hello world "))
	assert.Equal(t, []string{"[alice] hello world"}, api.sent())
}

func TestSubmit_StorageUnavailable(t *testing.T) {
	api := &fakeAPI{}
	c := newController(api, brokenKV{})
	require.NoError(t, c.Submit(context.Background(), "hi"))
	sent := api.sent()
	require.Len(t, sent, 1)
	assert.Regexp(t, regexp.MustCompile(`^\[[A-Za-z0-9]{5}\] hi$`), sent[0])
}

func TestSubmit_ReportsTransportError(t *testing.T) {
	api := &fakeAPI{postErr: errors.New("dial tcp: refused")}
	c := newController(api, &memKV{m: map[string]string{}})
	require.Error(t, c.Submit(context.Background(), "hi"))
}

func TestSetDisplayName(t *testing.T) {
	api := &fakeAPI{}
	c := newController(api, &memKV{m: map[string]string{}})
	assert.Equal(t, "bob", c.SetDisplayName(" <b>bob</b> "))
	assert.Equal(t, "bob", c.DisplayName())
	require.NoError(t, c.Submit(context.Background(), "x"))
	assert.Equal(t, []string{"[bob] x"}, api.sent())
}

func TestSetDisplayName_StorageUnavailableKeepsName(t *testing.T) {
	api := &fakeAPI{}
	c := newController(api, brokenKV{})
	assert.Equal(t, "neo", c.SetDisplayName("neo"))
	assert.Equal(t, "neo", c.DisplayName())
	require.NoError(t, c.Submit(context.Background(), "hi"))
	assert.Equal(t, []string{"[neo] hi"}, api.sent())
}

func TestStartBulk_UsesSharedSubmitPath(t *testing.T) {
	api := &fakeAPI{postErr: errors.New("ignored")}
	kv := &memKV{m: map[string]string{}}
	c := newController(api, kv)

	require.NoError(t, c.StartBulk(context.Background(), bulk.NewParams("ping", 3, 100)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.WaitBulk(ctx))

	name := kv.m[nickname.Key]
	require.NotEmpty(t, name)
	assert.Equal(t, []string{"[" + name + "] ping", "[" + name + "] ping", "[" + name + "] ping"}, api.sent())
	assert.Equal(t, "idle", c.BulkStatus().State)
}

func TestStartBulk_EmptyMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newController(api, &memKV{m: map[string]string{}})
	require.ErrorIs(t, c.StartBulk(context.Background(), bulk.NewParams(" ", 3, 100)), bulk.ErrEmptyMessage)
	c.StopBulk()
	assert.Empty(t, api.sent())
}

func TestPoll_DelegatesToSyncLoop(t *testing.T) {
	api := &fakeAPI{comments: []forum.Comment{{ID: "1", Content: "[a] b"}}}
	var shown []render.ListView
	c := New(api, nickname.NewStore(&memKV{m: map[string]string{}}), commentsync.DisplayFunc(func(v render.ListView) {
		shown = append(shown, v)
	}), Config{})

	changed, err := c.Poll(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, shown, 1)
	assert.Equal(t, "a", shown[0].Comments[0].Author)
	assert.EqualValues(t, 1, c.SyncStats().Changes)
}

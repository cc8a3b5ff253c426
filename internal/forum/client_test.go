package forum

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, 2*time.Second)
	require.NoError(t, err)
	return c
}

func TestListComments_DecodesAndBypassesCache(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/comments", r.URL.Path)
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":1,"content":"[alice] hi","created_at":"2024-01-01 10:00:00"},{"id":"x2","content":"yo","created_at":"2024-01-01 10:00:01"}]`)
	}))

	got, err := c.ListComments(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Comment{ID: "1", Content: "[alice] hi", CreatedAt: "2024-01-01 10:00:00"}, got[0])
	assert.Equal(t, ID("x2"), got[1].ID)
}

func TestListComments_EmptyArray(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `null`)
	}))
	got, err := c.ListComments(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestListComments_NonSuccessStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	_, err := c.ListComments(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

func TestListComments_Malformed(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"not":"a list"`)
	}))
	_, err := c.ListComments(context.Background())
	require.Error(t, err)
}

func TestPostForm_SendsContentAndToken(t *testing.T) {
	var gotContent, gotToken, gotCookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "_csrf_token", Value: "sess", Path: "/"})
		_, _ = io.WriteString(w, `<html><body><form id="commentForm"><input type="hidden" name="csrf_token" value="tok-123"><textarea name="content"></textarea></form></body></html>`)
	})
	mux.HandleFunc("/post", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		gotContent = r.PostForm.Get("content")
		gotToken = r.PostForm.Get("csrf_token")
		if ck, err := r.Cookie("_csrf_token"); err == nil {
			gotCookie = ck.Value
		}
		http.Redirect(w, r, "/", http.StatusFound)
	})
	c := newTestClient(t, mux)

	tok, err := c.RefreshCSRF(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)

	require.NoError(t, c.PostForm(context.Background(), "[bob] hello"))
	assert.Equal(t, "[bob] hello", gotContent)
	assert.Equal(t, "tok-123", gotToken)
	assert.Equal(t, "sess", gotCookie)
}

func TestPostForm_IgnoresStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	require.NoError(t, c.PostForm(context.Background(), "x"))
}

func TestFindCSRFToken_Absent(t *testing.T) {
	tok, err := findCSRFToken(strings.NewReader(`<form><input name="content" value="x"></form>`))
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_, _ = io.WriteString(w, `{"status":"healthy"}`)
			return
		}
		http.NotFound(w, r)
	}))
	require.NoError(t, c.Health(context.Background()))
}

func TestNewClient_RejectsScheme(t *testing.T) {
	_, err := NewClient("ftp://forum", time.Second)
	require.Error(t, err)
}

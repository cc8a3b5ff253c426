package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/anon-forum/internal/bulk"
	"github.com/gosuda/anon-forum/internal/render"
	"github.com/gosuda/anon-forum/internal/session"
)

const writeWait = 5 * time.Second

// frame is what viewers receive on every accepted render.
type frame struct {
	HTML   template.HTML `json:"html"`
	Latest string        `json:"latest"`
}

// viewer keeps the last rendered list and pushes updates to connected
// browsers. It implements commentsync.Display.
type viewer struct {
	mu    sync.Mutex
	last  frame
	conns map[*websocket.Conn]struct{}
	wg    sync.WaitGroup

	ctx  context.Context
	ctrl *session.Controller
}

func newViewer() *viewer {
	return &viewer{
		last:  frame{HTML: template.HTML(`<div class="no-comments"><p>Loading…</p></div>`)},
		conns: map[*websocket.Conn]struct{}{},
		ctx:   context.Background(),
	}
}

// attach binds the controller used by the form handlers. ctx outlives
// single requests and bounds bulk runs started from the page.
func (v *viewer) attach(ctx context.Context, ctrl *session.Controller) {
	v.mu.Lock()
	v.ctx, v.ctrl = ctx, ctrl
	v.mu.Unlock()
}

func (v *viewer) controller() (context.Context, *session.Controller) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctx, v.ctrl
}

func (v *viewer) Show(lv render.ListView) {
	html, err := render.HTML(lv)
	if err != nil {
		log.Warn().Err(err).Msg("[forum] render failed")
		return
	}
	f := frame{HTML: html, Latest: string(lv.Latest())}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.last = f
	for c := range v.conns {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(f); err != nil {
			log.Debug().Err(err).Msg("[forum] viewer write failed")
		}
	}
}

func (v *viewer) current() frame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

// closeAll force-closes all active websocket connections (used during shutdown).
func (v *viewer) closeAll() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for c := range v.conns {
		_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(time.Second))
	}
}

// wait blocks until all websocket handler goroutines have finished.
func (v *viewer) wait() {
	v.wg.Wait()
}

func (v *viewer) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	v.mu.Lock()
	v.conns[conn] = struct{}{}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(v.last)
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer func() {
			v.mu.Lock()
			delete(v.conns, conn)
			v.mu.Unlock()
			_ = conn.Close()
			v.wg.Done()
		}()
		// Viewers only listen; reading drives ping/close handling.
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

type pageData struct {
	Name     string
	Forum    string
	List     template.HTML
	Latest   string
	Username string
	Notice   string
	Bulk     bulk.Status
}

func (v *viewer) servePage(w http.ResponseWriter, name, forumURL, notice string, status int) {
	_, ctrl := v.controller()
	f := v.current()
	data := pageData{
		Name:   name,
		Forum:  forumURL,
		List:   f.HTML,
		Latest: f.Latest,
		Notice: notice,
	}
	if ctrl != nil {
		data.Username = ctrl.DisplayName()
		data.Bulk = ctrl.BulkStatus()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = indexTmpl.Execute(w, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewHandler builds the viewer HTTP router (page, websocket and form actions).
func NewHandler(name, forumURL string, v *viewer) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		v.servePage(w, name, forumURL, "", http.StatusOK)
	})
	r.Get("/ws", v.handleWS)

	r.Post("/post", func(w http.ResponseWriter, r *http.Request) {
		_, ctrl := v.controller()
		if ctrl == nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		err := ctrl.Submit(r.Context(), r.FormValue("content"))
		switch {
		case errors.Is(err, session.ErrEmptyComment):
			v.servePage(w, name, forumURL, session.EmptyCommentNotice, http.StatusUnprocessableEntity)
			return
		case err != nil:
			log.Debug().Err(err).Msg("[forum] post failed")
		default:
			// Show the new comment without waiting for the next tick.
			ctrl.Refresh()
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})

	r.Get("/settings", func(w http.ResponseWriter, r *http.Request) {
		_, ctrl := v.controller()
		if ctrl == nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"username": ctrl.DisplayName()})
	})
	r.Post("/settings", func(w http.ResponseWriter, r *http.Request) {
		_, ctrl := v.controller()
		if ctrl == nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		ctrl.SetDisplayName(r.FormValue("username"))
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})

	r.Get("/bulk", func(w http.ResponseWriter, r *http.Request) {
		_, ctrl := v.controller()
		if ctrl == nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, ctrl.BulkStatus())
	})
	r.Post("/bulk/start", func(w http.ResponseWriter, r *http.Request) {
		ctx, ctrl := v.controller()
		if ctrl == nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		p := bulk.ParseParams(r.FormValue("message"), r.FormValue("count"), r.FormValue("interval"))
		if err := ctrl.StartBulk(ctx, p); err != nil && !errors.Is(err, bulk.ErrEmptyMessage) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
	r.Post("/bulk/stop", func(w http.ResponseWriter, r *http.Request) {
		_, ctrl := v.controller()
		if ctrl != nil {
			ctrl.StopBulk()
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})

	// Minimal health check endpoint
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// textDisplay prints every accepted list to a terminal.
type textDisplay struct {
	mu sync.Mutex
	w  io.Writer
}

func newTextDisplay(w io.Writer) *textDisplay { return &textDisplay{w: w} }

func (t *textDisplay) Show(lv render.ListView) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = fmt.Fprintf(t.w, "\n── %d comment(s) ── %s\n", len(lv.Comments), time.Now().Format(time.TimeOnly))
	if err := render.Text(t.w, lv); err != nil {
		log.Debug().Err(err).Msg("[forum] terminal write failed")
	}
}

// multiDisplay fans a view out to several displays in order.
type multiDisplay []interface{ Show(render.ListView) }

func (m multiDisplay) Show(lv render.ListView) {
	for _, d := range m {
		d.Show(lv)
	}
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Name}} · Anonymous Forum</title>
  <style>
    body { margin:0; padding:24px; background:#0d1117; color:#e5e7eb; font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto, Helvetica, Arial }
    .wrap { max-width: 820px; margin: 0 auto }
    h1 { margin:0 0 4px 0; font-weight:700 }
    .sub { color:#9ca3af; font-size:13px; margin-bottom:16px }
    .comments-section { height: 55vh; overflow-y:auto; background:#111827; border:1px solid #1f2937; border-radius:10px; padding:12px }
    .comment { padding:10px 12px; border-bottom:1px solid #1f2937 }
    .comment-header { font-weight:700; color:#22c55e; margin-bottom:4px }
    .comment-content { white-space:pre-wrap; word-break:break-word }
    .comment-content a { color:#60a5fa }
    .comment-timestamp { color:#9ca3af; font-size:12px; margin-top:4px }
    .no-comments { color:#9ca3af; text-align:center; padding:24px }
    .notice { background:#7f1d1d; color:#fee2e2; padding:8px 12px; border-radius:8px; margin:12px 0 }
    form { margin-top:12px }
    textarea, input { background:#0b1220; color:#e5e7eb; border:1px solid #1f2937; border-radius:8px; padding:8px }
    textarea { width:100%; box-sizing:border-box; min-height:70px }
    button { background:#22c55e; color:#052e16; border:0; border-radius:8px; padding:8px 14px; font-weight:700; cursor:pointer }
    details { margin-top:16px; color:#9ca3af }
  </style>
</head>
<body>
  <div class="wrap">
    <h1>Anonymous Forum</h1>
    <div class="sub">{{.Forum}} · posting as <b>{{.Username}}</b></div>
    {{if .Notice}}<div class="notice" role="alert">{{.Notice}}</div>{{end}}
    <div class="comments-section" id="commentsSection"><div id="commentsList">{{.List}}</div></div>

    <form id="commentForm" method="post" action="post">
      <textarea id="content" name="content" maxlength="5000" placeholder="Share your thoughts…"></textarea>
      <button type="submit">Post</button>
    </form>

    <details>
      <summary>Settings</summary>
      <form method="post" action="settings">
        <input name="username" value="{{.Username}}" maxlength="24" />
        <button type="submit">Save</button>
      </form>
    </details>

    <details>
      <summary>Bulk send ({{.Bulk.State}}, {{.Bulk.Remaining}} left, {{.Bulk.Sent}} sent)</summary>
      <form method="post" action="bulk/start">
        <input name="message" placeholder="message" />
        <input name="count" value="1" size="4" />
        <input name="interval" value="1000" size="6" />
        <button type="submit">Start</button>
      </form>
      <form method="post" action="bulk/stop"><button type="submit">Stop</button></form>
    </details>
  </div>
  <script>
    (function(){
      const list = document.getElementById('commentsList');
      const section = document.getElementById('commentsSection');
      function toBottom(){ section.scrollTop = section.scrollHeight; }
      toBottom();
      function connect(){
        const proto = location.protocol === 'https:' ? 'wss' : 'ws';
        const ws = new WebSocket(proto + '://' + location.host + location.pathname.replace(/\/$/, '') + '/ws');
        ws.onmessage = (ev) => {
          const f = JSON.parse(ev.data);
          list.innerHTML = f.html;
          requestAnimationFrame(toBottom);
        };
        ws.onclose = () => setTimeout(connect, 1500);
      }
      connect();
      const content = document.getElementById('content');
      const form = document.getElementById('commentForm');
      content.addEventListener('keydown', (e) => {
        if (e.key === 'Enter' && !e.shiftKey) {
          e.preventDefault();
          if (content.value.trim()) form.submit();
        }
      });
      form.addEventListener('submit', (e) => {
        if (!content.value.trim()) { e.preventDefault(); alert('Please enter a comment before submitting.'); }
      });
      content.focus();
    })();
  </script>
</body>
</html>`))

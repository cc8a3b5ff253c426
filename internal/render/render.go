// Package render turns a comment list into a view model and applies it to a
// display surface. Build and its helpers are pure; HTML and Text are the
// apply steps.
package render

import (
	"html"
	"html/template"
	"regexp"
	"strings"

	"github.com/gosuda/anon-forum/internal/forum"
)

// Placeholder is shown when the forum has no comments.
const Placeholder = "No comments yet. Be the first to share your thoughts!"

var (
	// A leading [name] tag followed by the body. The body may span lines.
	displayNameRe = regexp.MustCompile(`^\s*\[([^\]]+)\]\s*((?s:.*))$`)
	urlRe         = regexp.MustCompile(`(?i)\bhttps?://\S+`)
)

// CommentView is a single rendered comment.
type CommentView struct {
	ID        forum.ID
	Author    string
	Body      template.HTML
	PlainBody string
	CreatedAt string
}

// ListView is the render model for the whole comment list, oldest first.
type ListView struct {
	Comments    []CommentView
	Placeholder string
}

// Empty reports whether the view shows the placeholder.
func (v ListView) Empty() bool { return len(v.Comments) == 0 }

// Latest returns the id of the most recent entry, the one the display
// scrolls to. It is empty for an empty list.
func (v ListView) Latest() forum.ID {
	if len(v.Comments) == 0 {
		return ""
	}
	return v.Comments[len(v.Comments)-1].ID
}

// Build creates the view model for comments in the order given.
func Build(comments []forum.Comment) ListView {
	if len(comments) == 0 {
		return ListView{Placeholder: Placeholder}
	}
	out := make([]CommentView, 0, len(comments))
	for _, c := range comments {
		name, body := SplitDisplayName(c.Content)
		out = append(out, CommentView{
			ID:        c.ID,
			Author:    name,
			Body:      Linkify(body),
			PlainBody: body,
			CreatedAt: c.CreatedAt,
		})
	}
	return ListView{Comments: out}
}

// SplitDisplayName extracts an optional leading "[name]" tag from content.
// Without a tag the name is empty and the whole content is the body.
func SplitDisplayName(content string) (name, body string) {
	m := displayNameRe.FindStringSubmatch(content)
	if m == nil {
		return "", content
	}
	return m[1], m[2]
}

// Linkify escapes text and turns bare http(s) URLs into anchors that open
// in a new context without leaking the referrer or opener.
func Linkify(text string) template.HTML {
	var b strings.Builder
	last := 0
	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		b.WriteString(html.EscapeString(text[last:loc[0]]))
		u := html.EscapeString(text[loc[0]:loc[1]])
		b.WriteString(`<a href="`)
		b.WriteString(u)
		b.WriteString(`" target="_blank" rel="noopener noreferrer">`)
		b.WriteString(u)
		b.WriteString(`</a>`)
		last = loc[1]
	}
	b.WriteString(html.EscapeString(text[last:]))
	return template.HTML(b.String())
}

package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
)

var listTmpl = template.Must(template.New("list").Parse(`{{- if .Empty -}}
<div class="no-comments"><p>{{.Placeholder}}</p></div>
{{- else -}}
{{- range .Comments -}}
<div class="comment" data-id="{{.ID}}">
{{- if .Author}}<div class="comment-header">{{.Author}}</div>{{end -}}
<div class="comment-content">{{.Body}}</div>
<div class="comment-timestamp">Posted on {{.CreatedAt}} UTC</div>
</div>
{{- end -}}
{{- end -}}`))

// HTML renders the list fragment that replaces the comment list on a page.
func HTML(v ListView) (template.HTML, error) {
	var buf bytes.Buffer
	if err := listTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render list: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// Text writes a terminal rendering of v. Entries are written oldest first
// so the latest one ends up at the bottom.
func Text(w io.Writer, v ListView) error {
	if v.Empty() {
		_, err := fmt.Fprintln(w, v.Placeholder)
		return err
	}
	for _, c := range v.Comments {
		author := c.Author
		if author == "" {
			author = "-"
		}
		if _, err := fmt.Fprintf(w, "%s  %s\n    %s\n", c.CreatedAt, author, c.PlainBody); err != nil {
			return err
		}
	}
	return nil
}

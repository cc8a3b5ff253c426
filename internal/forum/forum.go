// Package forum talks to the anonymous forum server: it lists comments,
// posts new ones through the form endpoint and reads the page's CSRF token.
package forum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// ID is an opaque comment identifier. The server may send it as a JSON
// number or string; either way it is kept as text.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	*id = ID(b)
	return nil
}

// Comment is a server-owned forum entry.
type Comment struct {
	ID        ID     `json:"id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// StatusError is returned when the server answers with a non-success status.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
}

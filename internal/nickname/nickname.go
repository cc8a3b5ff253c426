// Package nickname keeps the display name that prefixes every post.
package nickname

import (
	"html"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"
)

const (
	// Key is the storage key of the display name.
	Key = "forumUsername"

	Alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	NameLength = 5
	MaxLength  = 24
)

var namePolicy = bluemonday.StrictPolicy()

// Generate returns a random 5-character alphanumeric name.
func Generate() string {
	return gonanoid.MustGenerate(Alphabet, NameLength)
}

// Normalize strips markup, brackets and control characters from a name
// typed by the user and limits its length. The result may be empty.
func Normalize(name string) string {
	s := namePolicy.Sanitize(html.UnescapeString(name))
	s = html.UnescapeString(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '[' || r == ']':
			return -1
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxLength {
		s = strings.TrimSpace(string([]rune(s)[:MaxLength]))
	}
	return s
}

// Store reads and writes the display name. Storage failures never reach
// the caller of Resolve; the name is then kept in memory for the life of
// the Store.
type Store struct {
	kv       KV
	closer   io.Closer
	generate func() string

	mu     sync.Mutex
	memory string
}

// NewStore wraps kv.
func NewStore(kv KV) *Store {
	return &Store{kv: kv, generate: Generate}
}

// Open returns a Store persisted under dir, or an in-memory one when dir is
// empty. If the database cannot be opened the store is unavailable and
// every call falls back to generated names.
func Open(dir string) *Store {
	if dir == "" {
		return NewStore(newMemKV())
	}
	kv, err := openPebbleKV(dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("[name] open store failed; names will not persist")
		return NewStore(unavailableKV{})
	}
	s := NewStore(kv)
	s.closer = kv
	return s
}

// Resolve returns the stored display name, generating and saving one if it
// is missing or blank. It never returns "".
func (s *Store) Resolve() string {
	name, err := s.kv.Get(Key)
	if err != nil {
		log.Debug().Err(err).Msg("[name] read failed")
		return s.inMemory()
	}
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	name = s.inMemory()
	if err := s.kv.Set(Key, name); err != nil {
		log.Debug().Err(err).Msg("[name] write failed")
	}
	return name
}

// inMemory returns the name held outside storage, generating it on first use.
func (s *Store) inMemory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memory == "" {
		s.memory = s.generate()
	}
	return s.memory
}

// Save normalises and stores name. A blank name is replaced by a generated
// one. The effective name is returned even when storing it failed.
func (s *Store) Save(name string) (string, error) {
	name = Normalize(name)
	if name == "" {
		name = s.generate()
	}
	s.mu.Lock()
	s.memory = name
	s.mu.Unlock()
	if err := s.kv.Set(Key, name); err != nil {
		return name, err
	}
	return name, nil
}

// Close releases the underlying database, if any.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

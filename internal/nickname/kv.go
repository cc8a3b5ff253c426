package nickname

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/pebble/v2"
)

// ErrUnavailable is returned by a KV that cannot be read or written.
var ErrUnavailable = errors.New("name storage unavailable")

// KV is a string key-value capability. A missing key reads as "".
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// pebbleKV keeps values in a Pebble database.
type pebbleKV struct {
	db *pebble.DB
}

func openPebbleKV(dir string) (*pebbleKV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &pebbleKV{db: db}, nil
}

func (p *pebbleKV) Get(key string) (string, error) {
	data, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	defer closer.Close()
	return string(data), nil
}

func (p *pebbleKV) Set(key, value string) error {
	return p.db.Set([]byte(key), []byte(value), pebble.Sync)
}

func (p *pebbleKV) Close() error {
	return p.db.Close()
}

// memKV is used when no data directory is configured.
type memKV struct {
	mu sync.RWMutex
	m  map[string]string
}

func newMemKV() *memKV { return &memKV{m: map[string]string{}} }

func (m *memKV) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.m[key], nil
}

func (m *memKV) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m[key] = value
	return nil
}

type unavailableKV struct{}

func (unavailableKV) Get(string) (string, error) { return "", ErrUnavailable }
func (unavailableKV) Set(string, string) error   { return ErrUnavailable }

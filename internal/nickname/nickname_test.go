package nickname

import (
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var generatedRe = regexp.MustCompile(`^[A-Za-z0-9]{5}$`)

func TestGenerate(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n := Generate()
		require.Regexp(t, generatedRe, n)
		seen[n] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  alice  ":                   "alice",
		"<b>bob</b>":                  "bob",
		"<script>x()</script>carol":   "carol",
		"[dave]":                      "dave",
		"a&amp;b":                     "a&b",
		"line\nbreak":                 "linebreak",
		"":                            "",
		strings.Repeat("x", 40):       strings.Repeat("x", MaxLength),
		"   <i></i>   ":               "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestResolve_GeneratesAndPersists(t *testing.T) {
	s := NewStore(newMemKV())
	first := s.Resolve()
	require.Regexp(t, generatedRe, first)
	assert.Equal(t, first, s.Resolve())
}

func TestResolve_BlankStoredValue(t *testing.T) {
	kv := newMemKV()
	require.NoError(t, kv.Set(Key, "   "))
	s := NewStore(kv)
	name := s.Resolve()
	require.Regexp(t, generatedRe, name)
	stored, _ := kv.Get(Key)
	assert.Equal(t, name, stored)
}

func TestResolve_TrimsStoredValue(t *testing.T) {
	kv := newMemKV()
	require.NoError(t, kv.Set(Key, "  alice "))
	assert.Equal(t, "alice", NewStore(kv).Resolve())
}

func TestResolve_UnavailableStorage(t *testing.T) {
	s := NewStore(unavailableKV{})
	a := s.Resolve()
	require.Regexp(t, generatedRe, a)
	assert.Equal(t, a, s.Resolve())
}

func TestSave(t *testing.T) {
	s := NewStore(newMemKV())
	name, err := s.Save(" <em>zed</em> ")
	require.NoError(t, err)
	assert.Equal(t, "zed", name)
	assert.Equal(t, "zed", s.Resolve())

	name, err = s.Save("   ")
	require.NoError(t, err)
	assert.Regexp(t, generatedRe, name)
	assert.Equal(t, name, s.Resolve())
}

func TestSave_UnavailableStillReturnsName(t *testing.T) {
	s := NewStore(unavailableKV{})
	name, err := s.Save("alice")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, "alice", name)
	assert.Equal(t, "alice", s.Resolve())
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "names")

	s := Open(dir)
	_, err := s.Save("alice")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = Open(dir)
	defer s.Close()
	assert.Equal(t, "alice", s.Resolve())
}

func TestOpen_EmptyDirIsInMemory(t *testing.T) {
	s := Open("")
	defer s.Close()
	name := s.Resolve()
	assert.Equal(t, name, s.Resolve())
}

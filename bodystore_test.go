package nanohttp

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gookit/goutil/testutil/assert"
)

func tempFilesIn(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "nanohttp-*"))
	assert.NoErr(t, err)
	return matches
}

func TestBodyStoreInMemory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewDefaultBodyStore(dir, 16, nil)
	e, err := s.CreateEntity("field", "text/plain", "", -1)
	assert.NoErr(t, err)
	_, err = io.WriteString(e, "small")
	assert.NoErr(t, err)
	s.Put(e)

	assert.Eq(t, "", e.Path())
	assert.Eq(t, int64(5), e.Size())
	b, err := e.Bytes()
	assert.NoErr(t, err)
	assert.Eq(t, "small", string(b))
	assert.Empty(t, tempFilesIn(t, dir))

	got, ok := s.Entity("field")
	assert.True(t, ok)
	assert.Eq(t, "text/plain", got.ContentType())
	s.Clear()
	_, ok = s.Entity("field")
	assert.False(t, ok)
}

func TestBodyStoreSpill(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewDefaultBodyStore(dir, 16, nil)
	e, err := s.CreateEntity("upload", "application/octet-stream", "photo.jpg", -1)
	assert.NoErr(t, err)
	payload := strings.Repeat("0123456789", 10)
	for i := 0; i < len(payload); i += 7 {
		end := min(i+7, len(payload))
		_, err = io.WriteString(e, payload[i:end])
		assert.NoErr(t, err)
	}
	s.Put(e)

	assert.NotEmpty(t, e.Path())
	assert.Eq(t, dir, filepath.Dir(e.Path()))
	assert.Eq(t, int64(len(payload)), e.Size())
	assert.Eq(t, "photo.jpg", e.FileName())

	r, err := e.Open()
	assert.NoErr(t, err)
	b, err := io.ReadAll(r)
	assert.NoErr(t, err)
	assert.NoErr(t, r.Close())
	assert.Eq(t, payload, string(b))
	assert.Eq(t, []string{e.Path()}, s.TempFiles())

	path := e.Path()
	s.Clear()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, tempFilesIn(t, dir))
}

func TestBodyStoreSizeHintSpoolsUpFront(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewDefaultBodyStore(dir, 16, nil)
	e, err := s.CreateEntity("content", "", "", 1<<20)
	assert.NoErr(t, err)
	assert.NotEmpty(t, e.Path())

	always := NewDefaultBodyStore(dir, -1, nil)
	e2, err := always.CreateEntity("content", "", "", 0)
	assert.NoErr(t, err)
	assert.NotEmpty(t, e2.Path())
	assert.Len(t, tempFilesIn(t, dir), 2)

	s.Clear()
	always.Clear()
	assert.Empty(t, tempFilesIn(t, dir))
}

func TestBodyStoreReplaceKeepsOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewDefaultBodyStore(dir, -1, nil)
	for _, name := range []string{"a", "b", "a"} {
		e, err := s.CreateEntity(name, "", "", -1)
		assert.NoErr(t, err)
		s.Put(e)
	}
	es := s.Entities()
	assert.Len(t, es, 2)
	assert.Eq(t, "a", es[0].Name())
	assert.Eq(t, "b", es[1].Name())

	// the replaced entity's file is cleaned up too.
	assert.Len(t, tempFilesIn(t, dir), 3)
	s.Clear()
	assert.Empty(t, tempFilesIn(t, dir))
}

// Two stores, two requests: clearing one leaves the other's files alone.
func TestBodyStoreIsolation(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f := &DefaultBodyStoreFactory{TempDir: dir, MemoryLimit: -1}
	first, second := f.NewBodyStore(), f.NewBodyStore()

	e1, err := first.CreateEntity("content", "", "", -1)
	assert.NoErr(t, err)
	e2, err := second.CreateEntity("content", "", "", -1)
	assert.NoErr(t, err)

	first.Clear()
	_, err = os.Stat(e2.Path())
	assert.NoErr(t, err)
	assert.Eq(t, []string{e2.Path()}, tempFilesIn(t, dir))
	assert.Eq(t, "", e1.Path())

	second.Clear()
	assert.Empty(t, tempFilesIn(t, dir))
}

func TestBodyStoreUnwritableTempDir(t *testing.T) {
	t.Parallel()

	s := NewDefaultBodyStore(filepath.Join(t.TempDir(), "missing"), -1, nil)
	_, err := s.CreateEntity("content", "", "", -1)
	assert.Err(t, err)
}

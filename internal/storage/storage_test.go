package storage_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PaulBabatuyi/ImageDrop/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) (*storage.FilesystemStorage, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "images")
	fs, err := storage.NewFilesystemStorage(root)
	require.NoError(t, err)
	return fs, root
}

func TestNewFilesystemStorage_CreatesLayout(t *testing.T) {
	_, root := newStorage(t)

	info, err := os.Stat(filepath.Join(root, "preview"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewFilesystemStorage_EmptyPath(t *testing.T) {
	_, err := storage.NewFilesystemStorage("")
	assert.Error(t, err)
}

func TestSaveOriginal_RoundTrip(t *testing.T) {
	fs, root := newStorage(t)

	data := bytes.Repeat([]byte{0xAB, 0x01, 0x7F}, 3000) // spans several chunks
	require.NoError(t, fs.SaveOriginal("a.png", data))

	got, err := os.ReadFile(filepath.Join(root, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSaveOriginal_NeverOverwrites(t *testing.T) {
	fs, root := newStorage(t)

	require.NoError(t, fs.SaveOriginal("a.png", []byte("first")))
	err := fs.SaveOriginal("a.png", []byte("second"))
	assert.ErrorIs(t, err, storage.ErrAssetExists)

	got, err := os.ReadFile(filepath.Join(root, "a.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

type recordingWriter struct {
	writes []int
	failAt int
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.failAt > 0 && len(w.writes) == w.failAt {
		return 0, errors.New("disk full")
	}
	w.writes = append(w.writes, len(p))
	return len(p), nil
}

func TestWriteChunked_BoundsEachWrite(t *testing.T) {
	w := &recordingWriter{}
	require.NoError(t, storage.WriteChunked(w, make([]byte, 2500), 1024))
	assert.Equal(t, []int{1024, 1024, 452}, w.writes)
}

func TestWriteChunked_PropagatesError(t *testing.T) {
	w := &recordingWriter{failAt: 1}
	err := storage.WriteChunked(w, make([]byte, 4096), 1024)
	assert.EqualError(t, err, "disk full")
}

func TestListOriginals_SkipsDirectoriesAndSorts(t *testing.T) {
	fs, _ := newStorage(t)

	require.NoError(t, fs.SaveOriginal("b.jpeg", []byte("b")))
	require.NoError(t, fs.SaveOriginal("a.png", []byte("a")))

	names, err := fs.ListOriginals()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.jpeg"}, names)
}

func TestPreviewExistsAndRemove(t *testing.T) {
	fs, _ := newStorage(t)

	w, err := fs.CreatePreview("a.png")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.True(t, fs.PreviewExists("a.png"))

	require.NoError(t, fs.RemovePreview("a.png"))
	assert.False(t, fs.PreviewExists("a.png"))
	assert.NoError(t, fs.RemovePreview("a.png"), "removing a missing preview is not an error")
}

func TestOriginalModTime(t *testing.T) {
	fs, _ := newStorage(t)
	before := time.Now().Add(-time.Minute)

	require.NoError(t, fs.SaveOriginal("a.png", []byte("x")))
	mod, err := fs.OriginalModTime("a.png")
	require.NoError(t, err)
	assert.True(t, mod.After(before))

	_, err = fs.OriginalModTime("missing.png")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

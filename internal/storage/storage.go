package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	PreviewDirName = "preview"
	// ChunkSize bounds each write of an original payload.
	ChunkSize = 1024
)

var ErrAssetExists = errors.New("asset file already exists")

// FilesystemStorage stores originals in basePath and previews in
// basePath/preview under the same file name.
type FilesystemStorage struct {
	basePath string // e.g., "./data/images"
}

// NewFilesystemStorage provisions the root and preview directories.
func NewFilesystemStorage(basePath string) (*FilesystemStorage, error) {
	if basePath == "" {
		return nil, errors.New("storage path is empty")
	}
	if err := os.MkdirAll(filepath.Join(basePath, PreviewDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create storage layout: %w", err)
	}
	return &FilesystemStorage{basePath: basePath}, nil
}

func (fs *FilesystemStorage) Root() string {
	return fs.basePath
}

func (fs *FilesystemStorage) PreviewDir() string {
	return filepath.Join(fs.basePath, PreviewDirName)
}

func (fs *FilesystemStorage) originalPath(name string) string {
	return filepath.Join(fs.basePath, filepath.Base(name))
}

func (fs *FilesystemStorage) previewPath(name string) string {
	return filepath.Join(fs.basePath, PreviewDirName, filepath.Base(name))
}

// CreateOriginal opens a new original for writing. It never truncates an
// existing file.
func (fs *FilesystemStorage) CreateOriginal(name string) (io.WriteCloser, error) {
	return createExclusive(fs.originalPath(name))
}

// CreatePreview opens a new preview for writing. It never truncates an
// existing file.
func (fs *FilesystemStorage) CreatePreview(name string) (io.WriteCloser, error) {
	return createExclusive(fs.previewPath(name))
}

func createExclusive(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrAssetExists)
	}
	return f, err
}

// SaveOriginal writes data to a new original in ChunkSize pieces. A failed
// write leaves no file behind.
func (fs *FilesystemStorage) SaveOriginal(name string, data []byte) error {
	w, err := fs.CreateOriginal(name)
	if err != nil {
		return fmt.Errorf("create original: %w", err)
	}

	if err := WriteChunked(w, data, ChunkSize); err != nil {
		w.Close()
		return errors.Join(fmt.Errorf("write original: %w", err), fs.removePartial(name))
	}
	if err := w.Close(); err != nil {
		return errors.Join(fmt.Errorf("close original: %w", err), fs.removePartial(name))
	}
	return nil
}

func (fs *FilesystemStorage) removePartial(name string) error {
	if err := fs.RemoveOriginal(name); err != nil {
		return fmt.Errorf("remove partial original: %w", err)
	}
	return nil
}

// WriteChunked writes data sequentially, at most chunk bytes per call.
func WriteChunked(w io.Writer, data []byte, chunk int) error {
	if chunk <= 0 {
		chunk = ChunkSize
	}
	for len(data) > 0 {
		n := min(chunk, len(data))
		if _, err := w.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (fs *FilesystemStorage) OpenOriginal(name string) (io.ReadCloser, error) {
	return os.Open(fs.originalPath(name))
}

func (fs *FilesystemStorage) RemoveOriginal(name string) error {
	return removeIfExists(fs.originalPath(name))
}

func (fs *FilesystemStorage) RemovePreview(name string) error {
	return removeIfExists(fs.previewPath(name))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// OriginalModTime reports when the original was last written.
func (fs *FilesystemStorage) OriginalModTime(name string) (time.Time, error) {
	info, err := os.Stat(fs.originalPath(name))
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (fs *FilesystemStorage) PreviewExists(name string) bool {
	info, err := os.Stat(fs.previewPath(name))
	return err == nil && info.Mode().IsRegular()
}

// ListOriginals returns the names of all non-directory entries in the root,
// sorted by name.
func (fs *FilesystemStorage) ListOriginals() ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("read storage root: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

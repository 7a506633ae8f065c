package worker

import (
	"context"
	"errors"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulBabatuyi/ImageDrop/internal/models"
	"github.com/PaulBabatuyi/ImageDrop/internal/storage"
	"github.com/PaulBabatuyi/ImageDrop/internal/testutil"
)

func newProcessor(t *testing.T) (*ImageProcessor, *storage.FilesystemStorage) {
	t.Helper()
	fs, err := storage.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	return NewImageProcessor(fs, 240, 2), fs
}

func previewConfig(t *testing.T, fs *storage.FilesystemStorage, name string) image.Config {
	t.Helper()
	f, err := os.Open(filepath.Join(fs.PreviewDir(), name))
	require.NoError(t, err)
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return cfg
}

func TestPreviewSize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantHeight    int
	}{
		{"landscape 4:3", 800, 600, 180},
		{"portrait", 600, 800, 320},
		{"square", 1000, 1000, 240},
		{"upscale", 100, 50, 120},
		{"rounds half up", 480, 3, 2}, // 1.5
		{"extreme strip clamps to 1px", 10000, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := PreviewSize(tt.width, tt.height, 240)
			assert.Equal(t, 240, w)
			assert.Equal(t, tt.wantHeight, h)
		})
	}
}

func TestGeneratePreview_JPEG(t *testing.T) {
	ip, fs := newProcessor(t)

	res, err := ip.GeneratePreview(context.Background(), "a.jpeg", testutil.JPEG(t, 800, 600), models.FormatJPEG)
	require.NoError(t, err)

	assert.Equal(t, PreviewResult{SourceWidth: 800, SourceHeight: 600, Width: 240, Height: 180}, res)

	cfg := previewConfig(t, fs, "a.jpeg")
	assert.Equal(t, 240, cfg.Width)
	assert.Equal(t, 180, cfg.Height)
}

func TestGeneratePreview_PNGKeepsFormat(t *testing.T) {
	ip, fs := newProcessor(t)

	_, err := ip.GeneratePreview(context.Background(), "b.png", testutil.PNG(t, 300, 200), models.FormatPNG)
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(fs.PreviewDir(), "b.png"))
	require.NoError(t, err)
	defer f.Close()
	_, detected, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "png", detected)
}

func TestGeneratePreview_CorruptBytes(t *testing.T) {
	ip, fs := newProcessor(t)

	_, err := ip.GeneratePreview(context.Background(), "c.png", testutil.Corrupt(), models.FormatPNG)
	assert.ErrorIs(t, err, models.ErrDecode)
	assert.False(t, fs.PreviewExists("c.png"))
}

func TestGeneratePreview_DeclaredFormatIsNotSniffed(t *testing.T) {
	ip, _ := newProcessor(t)

	_, err := ip.GeneratePreview(context.Background(), "d.png", testutil.JPEG(t, 40, 40), models.FormatPNG)
	assert.ErrorIs(t, err, models.ErrDecode)
}

func TestGeneratePreview_ExistingPreviewIsStorageError(t *testing.T) {
	ip, fs := newProcessor(t)

	w, err := fs.CreatePreview("e.png")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = ip.GeneratePreview(context.Background(), "e.png", testutil.PNG(t, 10, 10), models.FormatPNG)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.ErrorIs(t, err, storage.ErrAssetExists)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (brokenWriter) Close() error              { return nil }

// stuckPreviewStore hands out writers that fail and cannot clean up after them.
type stuckPreviewStore struct{ removed []string }

func (s *stuckPreviewStore) CreatePreview(string) (io.WriteCloser, error) { return brokenWriter{}, nil }

func (s *stuckPreviewStore) RemovePreview(name string) error {
	s.removed = append(s.removed, name)
	return errors.New("permission denied")
}

func TestGeneratePreview_ReportsFailedCleanup(t *testing.T) {
	store := &stuckPreviewStore{}
	ip := NewImageProcessor(store, 240, 1)

	_, err := ip.GeneratePreview(context.Background(), "g.png", testutil.PNG(t, 10, 10), models.FormatPNG)
	assert.ErrorIs(t, err, models.ErrStorage)
	assert.ErrorContains(t, err, "disk full")
	assert.ErrorContains(t, err, "remove partial preview: permission denied")
	assert.Equal(t, []string{"g.png"}, store.removed)
}

func TestGeneratePreview_WaitsForSlot(t *testing.T) {
	ip, _ := newProcessor(t)
	require.True(t, ip.sem.TryAcquire(2))
	defer ip.sem.Release(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ip.GeneratePreview(ctx, "f.png", testutil.PNG(t, 10, 10), models.FormatPNG)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGeneratePreview_RejectsTallNarrowImage(t *testing.T) {
	ip, fs := newProcessor(t)
	data := testutil.PNG(t, 1, 60000)

	_, err := ip.GeneratePreview(context.Background(), "tall.png", data, models.FormatPNG)
	assert.ErrorIs(t, err, models.ErrDecode)
	assert.ErrorContains(t, err, "limit is 4096")
	assert.False(t, fs.PreviewExists("tall.png"))
}

func TestGeneratePreview_RejectsOversizedHeader(t *testing.T) {
	ip, fs := newProcessor(t)
	data := testutil.PNGWithDeclaredSize(t, 100000, 100000)

	cfg, err := DecodeConfig(data, models.FormatPNG)
	require.NoError(t, err)
	require.Equal(t, 100000, cfg.Width)

	_, err = ip.GeneratePreview(context.Background(), "huge.png", data, models.FormatPNG)
	assert.ErrorIs(t, err, models.ErrDecode)
	assert.ErrorContains(t, err, "pixels")
	assert.False(t, fs.PreviewExists("huge.png"))
}

func TestGeneratePreview_ConfiguredLimits(t *testing.T) {
	fs, err := storage.NewFilesystemStorage(t.TempDir())
	require.NoError(t, err)
	ip := NewImageProcessor(fs, 240, 1, WithMaxSourcePixels(100), WithMaxPreviewHeight(300))

	_, err = ip.GeneratePreview(context.Background(), "a.png", testutil.PNG(t, 20, 20), models.FormatPNG)
	assert.ErrorIs(t, err, models.ErrDecode)

	_, err = ip.GeneratePreview(context.Background(), "b.png", testutil.PNG(t, 8, 8), models.FormatPNG)
	assert.NoError(t, err)

	// 240/5*10 = 480 rows
	_, err = ip.GeneratePreview(context.Background(), "c.png", testutil.PNG(t, 5, 10), models.FormatPNG)
	assert.ErrorIs(t, err, models.ErrDecode)
}

func TestCheckGeometry(t *testing.T) {
	ip, _ := newProcessor(t)

	for _, tc := range []struct {
		name          string
		width, height int
		wantErr       bool
	}{
		{"zero width", 0, 600, true},
		{"zero height", 800, 0, true},
		{"negative", -1, 10, true},
		{"landscape", 800, 600, false},
		{"tallest allowed", 240, 4096, false},
		{"one row too tall", 240, 4097, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ip.checkGeometry(tc.width, tc.height)
			if tc.wantErr {
				assert.ErrorIs(t, err, models.ErrDecode)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecode_RejectsUnknownFormat(t *testing.T) {
	_, err := Decode(testutil.PNG(t, 4, 4), models.Format("gif"))
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

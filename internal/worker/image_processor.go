package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/PaulBabatuyi/ImageDrop/internal/models"
	"github.com/PaulBabatuyi/ImageDrop/internal/observability"
)

// PreviewStore is the part of storage the processor writes to.
type PreviewStore interface {
	CreatePreview(name string) (io.WriteCloser, error)
	RemovePreview(name string) error
}

// PreviewResult describes a generated preview and its source.
type PreviewResult struct {
	SourceWidth  int
	SourceHeight int
	Width        int
	Height       int
}

const (
	DefaultMaxSourcePixels  int64 = 40_000_000
	DefaultMaxPreviewHeight       = 4096
)

type ImageProcessor struct {
	storage   PreviewStore
	sem       *semaphore.Weighted
	width     int
	maxPixels int64
	maxHeight int
}

type ProcessorOption func(*ImageProcessor)

// WithMaxSourcePixels caps width*height of an image before it is decoded.
func WithMaxSourcePixels(n int64) ProcessorOption {
	return func(ip *ImageProcessor) {
		if n > 0 {
			ip.maxPixels = n
		}
	}
}

// WithMaxPreviewHeight caps the height a preview may be resized to.
func WithMaxPreviewHeight(n int) ProcessorOption {
	return func(ip *ImageProcessor) {
		if n > 0 {
			ip.maxHeight = n
		}
	}
}

// NewImageProcessor bounds concurrent decode/resize work to concurrency
// slots shared by every request.
func NewImageProcessor(storage PreviewStore, width, concurrency int, opts ...ProcessorOption) *ImageProcessor {
	if concurrency <= 0 {
		concurrency = 1
	}
	ip := &ImageProcessor{
		storage:   storage,
		sem:       semaphore.NewWeighted(int64(concurrency)),
		width:     width,
		maxPixels: DefaultMaxSourcePixels,
		maxHeight: DefaultMaxPreviewHeight,
	}
	for _, opt := range opts {
		opt(ip)
	}
	return ip
}

// GeneratePreview decodes data with the declared format, resizes it to the
// configured width, and stores it as preview/<name>.
func (ip *ImageProcessor) GeneratePreview(ctx context.Context, name string, data []byte, format models.Format) (PreviewResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "preview.generate")
	defer span.End()
	span.SetAttributes(attribute.String("asset.name", name), attribute.String("asset.format", string(format)))

	if err := ip.sem.Acquire(ctx, 1); err != nil {
		return PreviewResult{}, fmt.Errorf("wait for preview slot: %w", err)
	}
	defer ip.sem.Release(1)

	start := time.Now()
	defer func() {
		observability.PreviewDuration.WithLabelValues(string(format)).Observe(time.Since(start).Seconds())
	}()

	// Geometry is checked from the header so no pixel buffer is allocated
	// for an image that would be rejected.
	cfg, err := DecodeConfig(data, format)
	if err != nil {
		return PreviewResult{}, err
	}
	width, height, err := ip.checkGeometry(cfg.Width, cfg.Height)
	if err != nil {
		return PreviewResult{}, err
	}

	img, err := Decode(data, format)
	if err != nil {
		return PreviewResult{}, err
	}

	bounds := img.Bounds()
	thumb := imaging.Resize(img, width, height, imaging.Lanczos)

	if err := ip.savePreview(name, thumb, format); err != nil {
		return PreviewResult{}, err
	}

	return PreviewResult{
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
		Width:        width,
		Height:       height,
	}, nil
}

func (ip *ImageProcessor) savePreview(name string, thumb image.Image, format models.Format) error {
	out, err := ip.storage.CreatePreview(name)
	if err != nil {
		return fmt.Errorf("create preview: %w: %w", models.ErrStorage, err)
	}

	if err := imaging.Encode(out, thumb, encodeFormat(format)); err != nil {
		out.Close()
		return errors.Join(
			fmt.Errorf("encode preview: %w: %w", models.ErrStorage, err),
			ip.removePartial(name),
		)
	}
	if err := out.Close(); err != nil {
		return errors.Join(
			fmt.Errorf("close preview: %w: %w", models.ErrStorage, err),
			ip.removePartial(name),
		)
	}
	return nil
}

func (ip *ImageProcessor) removePartial(name string) error {
	if err := ip.storage.RemovePreview(name); err != nil {
		return fmt.Errorf("remove partial preview: %w", err)
	}
	return nil
}

// checkGeometry rejects source dimensions that are empty or too large and
// returns the preview size for the rest.
func (ip *ImageProcessor) checkGeometry(srcWidth, srcHeight int) (int, int, error) {
	if err := checkDimensions(srcWidth, srcHeight); err != nil {
		return 0, 0, err
	}
	if pixels := int64(srcWidth) * int64(srcHeight); pixels > ip.maxPixels {
		return 0, 0, fmt.Errorf("%w: %dx%d exceeds %d pixels", models.ErrDecode, srcWidth, srcHeight, ip.maxPixels)
	}

	width, height := PreviewSize(srcWidth, srcHeight, ip.width)
	if height > ip.maxHeight {
		return 0, 0, fmt.Errorf("%w: preview of %dx%d would be %d pixels tall, limit is %d",
			models.ErrDecode, srcWidth, srcHeight, height, ip.maxHeight)
	}
	return width, height, nil
}

// DecodeConfig reads only the header, with the codec named by format.
func DecodeConfig(data []byte, format models.Format) (image.Config, error) {
	var (
		cfg image.Config
		err error
	)
	switch format {
	case models.FormatPNG:
		cfg, err = png.DecodeConfig(bytes.NewReader(data))
	case models.FormatJPEG:
		cfg, err = jpeg.DecodeConfig(bytes.NewReader(data))
	default:
		return image.Config{}, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return image.Config{}, fmt.Errorf("%w: %s header: %w", models.ErrDecode, format, err)
	}
	return cfg, nil
}

// checkDimensions rejects zero-size images. png and jpeg refuse them while
// parsing, so this is what keeps PreviewSize from dividing by zero if they
// ever stop doing so.
func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: zero-dimension image %dx%d", models.ErrDecode, width, height)
	}
	return nil
}

// Decode uses only the codec named by format; content is never sniffed.
// Images with a zero dimension are rejected.
func Decode(data []byte, format models.Format) (image.Image, error) {
	var (
		img image.Image
		err error
	)
	switch format {
	case models.FormatPNG:
		img, err = png.Decode(bytes.NewReader(data))
	case models.FormatJPEG:
		img, err = jpeg.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrDecode, format, err)
	}

	b := img.Bounds()
	if err := checkDimensions(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}
	return img, nil
}

// PreviewSize keeps the aspect ratio: height = round(target/width*height),
// never less than one pixel.
func PreviewSize(width, height, target int) (int, int) {
	h := int(math.Round(float64(target) / float64(width) * float64(height)))
	return target, max(h, 1)
}

func encodeFormat(format models.Format) imaging.Format {
	if format == models.FormatJPEG {
		return imaging.JPEG
	}
	return imaging.PNG
}

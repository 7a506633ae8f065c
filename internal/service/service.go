package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/ImageDrop/internal/models"
	"github.com/PaulBabatuyi/ImageDrop/internal/observability"
	"github.com/PaulBabatuyi/ImageDrop/internal/storage"
)

// Stage is where in the per-field pipeline a failure happened.
type Stage string

const (
	StageReading    Stage = "reading"
	StageValidating Stage = "validating"
	StageWriting    Stage = "writing"
	StagePreviewing Stage = "previewing"
)

// FieldError reports the field that stopped an upload.
type FieldError struct {
	Index int
	Field string
	Stage Stage
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %d (%q) failed while %s: %v", e.Index, e.Field, e.Stage, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Upload processes every part of mr in arrival order, one at a time. The
// first failing field stops the request; fields stored before it keep their
// files. The returned assets are the ones fully stored.
func (s *UploadService) Upload(ctx context.Context, mr *multipart.Reader) ([]models.ImageAsset, error) {
	ctx, span := observability.Tracer().Start(ctx, "upload")
	defer span.End()

	var assets []models.ImageAsset
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			ferr := &FieldError{Index: index, Stage: StageReading, Err: err}
			s.recordFailure(span, ferr)
			return assets, ferr
		}

		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			ferr := &FieldError{Index: index, Stage: StageReading, Err: classifyReadError(err)}
			s.recordFailure(span, ferr)
			return assets, ferr
		}

		asset, err := s.processField(ctx, index, part)
		part.Close()
		if err != nil {
			s.recordFailure(span, err)
			return assets, err
		}
		assets = append(assets, asset)
	}

	span.SetAttributes(attribute.Int("upload.assets", len(assets)))
	return assets, nil
}

func (s *UploadService) processField(ctx context.Context, index int, part *multipart.Part) (models.ImageAsset, error) {
	field := part.FormName()
	fail := func(stage Stage, err error) (models.ImageAsset, error) {
		return models.ImageAsset{}, &FieldError{Index: index, Field: field, Stage: stage, Err: err}
	}

	format, err := ResolveFormat(part.Header.Get("Content-Type"))
	if err != nil {
		return fail(StageValidating, err)
	}

	data, err := io.ReadAll(part)
	if err != nil {
		return fail(StageReading, classifyReadError(err))
	}

	asset := models.ImageAsset{
		ID:     s.newID(),
		Format: format,
		Size:   int64(len(data)),
	}
	name := asset.FileName()

	if err := s.storage.SaveOriginal(name, data); err != nil {
		return fail(StageWriting, fmt.Errorf("%w: %w", models.ErrStorage, err))
	}
	observability.UploadBytesTotal.Add(float64(len(data)))

	preview, err := s.previews.GeneratePreview(ctx, name, data, format)
	if errors.Is(err, storage.ErrAssetExists) {
		// The reconciler got to this original first; its preview is as good
		// as ours.
		s.logger.Info("preview already present, keeping it", zap.String("asset", name))
		err = nil
	}
	if err != nil {
		// Keep the layout invariant: no original without a preview.
		if rmErr := s.storage.RemoveOriginal(name); rmErr != nil {
			s.logger.Warn("failed to remove orphaned original",
				zap.String("asset", name),
				zap.Error(rmErr),
			)
		}
		return fail(StagePreviewing, err)
	}

	asset.Width = preview.SourceWidth
	asset.Height = preview.SourceHeight
	asset.PreviewWidth = preview.Width
	asset.PreviewHeight = preview.Height

	observability.UploadFieldsTotal.WithLabelValues("stored").Inc()
	s.logger.Info("asset stored",
		zap.String("asset", name),
		zap.String("field", field),
		zap.Int64("size", asset.Size),
		zap.Int("width", asset.Width),
		zap.Int("height", asset.Height),
		zap.Int("preview_height", asset.PreviewHeight),
	)

	return asset, nil
}

func (s *UploadService) recordFailure(span oteltrace.Span, err error) {
	observability.UploadFieldsTotal.WithLabelValues(Outcome(err)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, Outcome(err))
}

// classifyReadError separates a body that exceeded the size ceiling from
// one that is simply not valid multipart.
func classifyReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: limit %d bytes", models.ErrPayloadTooLarge, maxErr.Limit)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrMalformedRequest, err)
}

// Outcome is the metrics label for an upload error.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "stored"
	case errors.Is(err, models.ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, models.ErrUnsupportedFormat):
		return "unsupported"
	case errors.Is(err, models.ErrDecode):
		return "decode_failed"
	case errors.Is(err, models.ErrStorage):
		return "storage_failed"
	case errors.Is(err, models.ErrMalformedRequest):
		return "malformed"
	default:
		return "aborted"
	}
}

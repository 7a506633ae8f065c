package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/PaulBabatuyi/ImageDrop/internal/models"
	"github.com/PaulBabatuyi/ImageDrop/internal/worker"
)

type UploadService struct {
	storage  StorageInterface
	previews PreviewGenerator
	newID    IDGenerator
	logger   *zap.Logger
}

type StorageInterface interface {
	SaveOriginal(name string, data []byte) error
	RemoveOriginal(name string) error
}

type PreviewGenerator interface {
	GeneratePreview(ctx context.Context, name string, data []byte, format models.Format) (worker.PreviewResult, error)
}

type Option func(*UploadService)

// WithIDGenerator replaces the random UUID allocator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *UploadService) {
		s.newID = gen
	}
}

func NewUploadService(storage StorageInterface, previews PreviewGenerator, logger *zap.Logger, opts ...Option) *UploadService {
	s := &UploadService{
		storage:  storage,
		previews: previews,
		newID:    NewAssetID,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/ImageDrop/internal/apierr"
	"github.com/PaulBabatuyi/ImageDrop/internal/middleware"
	"github.com/PaulBabatuyi/ImageDrop/internal/models"
	"github.com/PaulBabatuyi/ImageDrop/web"
)

const shutdownTimeout = 10 * time.Second

// Uploader runs one multipart upload to completion.
type Uploader interface {
	Upload(ctx context.Context, mr *multipart.Reader) ([]models.ImageAsset, error)
}

type Options struct {
	Addr           string
	StorageRoot    string
	MaxUploadBytes int64
	// UploadRateLimit is uploads per IP per minute. Zero disables it.
	UploadRateLimit int
	CORSOrigins     []string
}

type Server struct {
	opts    Options
	uploads Uploader
	gallery GalleryLister
	logger  *zap.Logger
	router  chi.Router
}

func New(opts Options, uploads Uploader, gallery GalleryLister, logger *zap.Logger) *Server {
	s := &Server{
		opts:    opts,
		uploads: uploads,
		gallery: gallery,
		logger:  logger,
	}
	s.router = s.routes()
	return s
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// Logger goes before Recoverer so panics are logged with their 500.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	notFound := notFoundPage(web.Assets, web.NotFoundPage)
	assets := fileServer(web.Assets, notFound)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		if s.opts.UploadRateLimit > 0 {
			r.Use(httprate.Limit(
				s.opts.UploadRateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					render.Render(w, r, apierr.ErrTooManyRequests(errors.New("upload rate limit exceeded")))
				}),
			))
		}
		r.With(middleware.SizeGuard(s.opts.MaxUploadBytes)).Post("/upload", s.handleUpload)
	})

	r.Get("/lists", s.handleList)

	var storageFS fs.FS = os.DirFS(s.opts.StorageRoot)
	r.Handle("/static/*", http.StripPrefix("/static", fileServer(storageFS, notFound)))

	r.NotFound(assets.ServeHTTP)

	return r
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		render.Render(w, r, apierr.ErrInvalidRequest(fmt.Errorf("%w: %w", models.ErrMalformedRequest, err)))
		return
	}

	assets, err := s.uploads.Upload(r.Context(), mr)
	if err != nil {
		s.logger.Warn("upload failed",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.Int("stored", len(assets)),
			zap.Error(err),
		)
		render.Render(w, r, apierr.FromError(err))
		return
	}

	s.logger.Info("upload complete",
		zap.String("request_id", chimw.GetReqID(r.Context())),
		zap.Int("stored", len(assets)),
	)
	w.WriteHeader(http.StatusOK)
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

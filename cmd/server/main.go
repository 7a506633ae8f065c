package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/ImageDrop/internal/config"
	"github.com/PaulBabatuyi/ImageDrop/internal/observability"
	"github.com/PaulBabatuyi/ImageDrop/internal/server"
	"github.com/PaulBabatuyi/ImageDrop/internal/service"
	"github.com/PaulBabatuyi/ImageDrop/internal/storage"
	"github.com/PaulBabatuyi/ImageDrop/internal/worker"
)

var (
	configPath string
	listenAddr string
	devMode    bool
)

var rootCmd = &cobra.Command{
	Use:   "imagedrop",
	Short: "Image upload server with preview generation",
	Long: "imagedrop accepts PNG and JPEG uploads, stores the original bytes,\n" +
		"and renders a fixed-width preview for the gallery.",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Regenerate missing previews once and exit",
	RunE:  runReconcile,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "human-readable development logging")
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (overrides LISTEN_ADDR)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env, the config file and the environment, then applies
// command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("addr") {
		cfg.ListenAddr = listenAddr
	}
	if cmd.Flags().Changed("dev") {
		cfg.Dev = devMode
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.InitLogger(observability.LoggerOptions{
		Dev:       cfg.Dev,
		LogFile:   cfg.LogFile,
		UTCOffset: cfg.LogUTCOffset,
	})
}

func newImageProcessor(cfg *config.Config, store *storage.FilesystemStorage) *worker.ImageProcessor {
	return worker.NewImageProcessor(store, cfg.PreviewWidth, cfg.PreviewConcurrency,
		worker.WithMaxSourcePixels(cfg.MaxSourcePixels),
		worker.WithMaxPreviewHeight(cfg.MaxPreviewHeight),
	)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing {
		tp, err := observability.InitTracerProvider(ctx, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			observability.ShutdownTracerProvider(shutdownCtx, tp, logger)
		}()
	}

	store, err := storage.NewFilesystemStorage(cfg.Storage)
	if err != nil {
		logger.Error("failed to prepare storage", zap.String("path", cfg.Storage), zap.Error(err))
		return err
	}

	previews := newImageProcessor(cfg, store)
	uploads := service.NewUploadService(store, previews, logger)

	var metricsSrv *observability.MetricsServer
	if cfg.MetricsPort != "" {
		metricsSrv = observability.NewMetricsServer(cfg.MetricsPort, logger)
		metricsSrv.Start()
	}

	if cfg.ReconcileInterval > 0 {
		reconciler := worker.NewReconciler(&worker.ReconcilerConfig{
			Store:        store,
			Previews:     previews,
			Logger:       observability.NewSugaredLogger(logger),
			PollInterval: cfg.ReconcileInterval,
		})
		reconciler.Start(ctx)
		defer reconciler.Stop()
	}

	srv := server.New(server.Options{
		Addr:            cfg.ListenAddr,
		StorageRoot:     store.Root(),
		MaxUploadBytes:  cfg.MaxUploadBytes,
		UploadRateLimit: cfg.UploadRateLimit,
		CORSOrigins:     cfg.CORSOrigins,
	}, uploads, store, logger)

	logger.Info("imagedrop starting",
		zap.String("storage", cfg.Storage),
		zap.String("addr", cfg.ListenAddr),
		zap.Int64("max_upload_bytes", cfg.MaxUploadBytes),
		zap.Int("preview_width", cfg.PreviewWidth),
		zap.Int("preview_concurrency", cfg.PreviewConcurrency),
		zap.Int64("max_source_pixels", cfg.MaxSourcePixels),
		zap.Int("max_preview_height", cfg.MaxPreviewHeight),
	)

	runErr := srv.Run(ctx)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}

	if runErr != nil {
		logger.Error("server stopped with error", zap.Error(runErr))
		return runErr
	}
	logger.Info("server stopped")
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	store, err := storage.NewFilesystemStorage(cfg.Storage)
	if err != nil {
		return err
	}

	reconciler := worker.NewReconciler(&worker.ReconcilerConfig{
		Store:    store,
		Previews: newImageProcessor(cfg, store),
		Logger:   observability.NewSugaredLogger(logger),
	})

	report, err := reconciler.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, repaired %d, failed %d, skipped %d, pending %d\n",
		report.Scanned, report.Repaired, report.Failed, report.Skipped, report.Pending)
	return nil
}

package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// HTTPRequestsTotal is partitioned by method, route template, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagedrop_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagedrop_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imagedrop_http_inflight_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// UploadFieldsTotal counts upload fields by outcome: stored, unsupported,
	// decode_failed, storage_failed, too_large, malformed.
	UploadFieldsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagedrop_upload_fields_total",
			Help: "Upload fields processed, by outcome",
		},
		[]string{"outcome"},
	)

	// UploadRequestsRejected counts whole requests refused before any field
	// is read: length_required, too_large.
	UploadRequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagedrop_upload_requests_rejected_total",
			Help: "Upload requests rejected before their fields were read, by reason",
		},
		[]string{"reason"},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imagedrop_upload_bytes_total",
			Help: "Bytes of original images written to storage",
		},
	)

	PreviewDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagedrop_preview_duration_seconds",
			Help:    "Time spent decoding, resizing, and encoding previews",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"format"},
	)

	PreviewsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagedrop_previews_reconciled_total",
			Help: "Missing previews found by the reconciler, by result",
		},
		[]string{"result"},
	)
)

// MetricsServer exposes /metrics and /health on a side port.
type MetricsServer struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewMetricsServer(port string, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves metrics in the background.
func (m *MetricsServer) Start() {
	go func() {
		m.logger.Info("starting metrics server", zap.String("addr", m.srv.Addr))
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

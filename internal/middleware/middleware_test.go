package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/PaulBabatuyi/ImageDrop/internal/observability"
)

type bodyProbe struct {
	called bool
	read   int
	err    error
}

func (p *bodyProbe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.called = true
	n, err := io.Copy(io.Discard, r.Body)
	p.read, p.err = int(n), err
	w.WriteHeader(http.StatusOK)
}

func TestSizeGuard_RejectsDeclaredOversize(t *testing.T) {
	probe := &bodyProbe{}
	h := SizeGuard(10 << 20)(probe)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("tiny"))
	req.ContentLength = 11 << 20
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, probe.called, "body must not reach the handler")
}

func TestSizeGuard_CountsRequestsNotFields(t *testing.T) {
	rejected := observability.UploadRequestsRejected.WithLabelValues("too_large")
	fields := observability.UploadFieldsTotal.WithLabelValues("too_large")
	rejectedBefore, fieldsBefore := promtest.ToFloat64(rejected), promtest.ToFloat64(fields)

	h := SizeGuard(16)(&bodyProbe{})
	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("tiny"))
	req.ContentLength = 1 << 20
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, rejectedBefore+1, promtest.ToFloat64(rejected))
	assert.Equal(t, fieldsBefore, promtest.ToFloat64(fields))
}

func TestSizeGuard_AllowsAtLimit(t *testing.T) {
	probe := &bodyProbe{}
	h := SizeGuard(16)(probe)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(make([]byte, 16)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, probe.called)
	assert.Equal(t, 16, probe.read)
	assert.NoError(t, probe.err)
}

func TestSizeGuard_MissingLength(t *testing.T) {
	probe := &bodyProbe{}
	h := SizeGuard(16)(probe)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("abc"))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusLengthRequired, rec.Code)
	assert.False(t, probe.called)
}

func TestSizeGuard_CapsUnderstatedBody(t *testing.T) {
	probe := &bodyProbe{}
	h := SizeGuard(16)(probe)

	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(make([]byte, 64)))
	req.ContentLength = 8
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.True(t, probe.called)
	var maxErr *http.MaxBytesError
	assert.ErrorAs(t, probe.err, &maxErr)
}

func TestRequestLogger_LevelsByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	r := chi.NewRouter()
	r.Use(RequestLogger(logger))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, int64(404), entries[1].ContextMap()["status"])
}

func TestMetrics_PassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/lists", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/lists", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

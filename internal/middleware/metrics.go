package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PaulBabatuyi/ImageDrop/internal/observability"
)

// Metrics records request counts, latencies, and in-flight requests.
// Routes are labelled by their chi pattern to keep cardinality low.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		observability.HTTPInFlight.Inc()
		defer observability.HTTPInFlight.Dec()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		observability.HTTPRequestsTotal.With(labels).Inc()
		observability.HTTPRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

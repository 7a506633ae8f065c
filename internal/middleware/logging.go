package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs every request with timing and status. 5xx responses
// are logged at error level and 4xx at warn.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				logLevel := zapcore.InfoLevel
				switch {
				case status >= 500:
					logLevel = zapcore.ErrorLevel
				case status >= 400:
					logLevel = zapcore.WarnLevel
				}

				if ce := logger.Check(logLevel, "http request"); ce != nil {
					ce.Write(
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("request_id", chimw.GetReqID(r.Context())),
						zap.String("remote_addr", r.RemoteAddr),
						zap.Int64("content_length", r.ContentLength),
						zap.Int("status", status),
						zap.Int("bytes", ww.BytesWritten()),
						zap.Duration("duration", time.Since(start)),
					)
				}
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}

package middleware

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"

	"github.com/PaulBabatuyi/ImageDrop/internal/apierr"
	"github.com/PaulBabatuyi/ImageDrop/internal/models"
	"github.com/PaulBabatuyi/ImageDrop/internal/observability"
)

// SizeGuard rejects a request whose declared Content-Length exceeds limit
// before any of the body is read. Requests without a declared length are
// refused with 411. Accepted bodies are capped at limit bytes as well, in
// case the declared length is a lie.
func SizeGuard(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength < 0 {
				observability.UploadRequestsRejected.WithLabelValues("length_required").Inc()
				render.Render(w, r, apierr.ErrLengthRequired(
					fmt.Errorf("%w: missing Content-Length", models.ErrMalformedRequest),
				))
				return
			}

			if r.ContentLength > limit {
				observability.UploadRequestsRejected.WithLabelValues("too_large").Inc()
				render.Render(w, r, apierr.ErrContentTooLarge(
					fmt.Errorf("%w: %d bytes declared, limit is %d", models.ErrPayloadTooLarge, r.ContentLength, limit),
				))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

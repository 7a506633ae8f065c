// Package apierr renders upload pipeline failures as JSON error responses.
package apierr

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/PaulBabatuyi/ImageDrop/internal/models"
)

type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

func (er *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, er.HTTPStatusCode)
	return nil
}

func newErr(err error, status int, text string) *ErrResponse {
	er := &ErrResponse{
		Err:            err,
		HTTPStatusCode: status,
		StatusText:     text,
	}
	if err != nil {
		er.ErrorText = err.Error()
	}
	return er
}

// e.g., broken multipart framing
func ErrInvalidRequest(err error) render.Renderer {
	return newErr(err, http.StatusBadRequest, "Invalid request.") // 400
}

func ErrLengthRequired(err error) render.Renderer {
	return newErr(err, http.StatusLengthRequired, "Content length required.") // 411
}

func ErrContentTooLarge(err error) render.Renderer {
	return newErr(err, http.StatusRequestEntityTooLarge, "Content too large.") // 413
}

func ErrUnsupportedMediaType(err error) render.Renderer {
	return newErr(err, http.StatusUnsupportedMediaType, "Unsupported media type.") // 415
}

func ErrTooManyRequests(err error) render.Renderer {
	return newErr(err, http.StatusTooManyRequests, "Too many requests.") // 429
}

func ErrInternalServerError(err error) render.Renderer {
	return newErr(err, http.StatusInternalServerError, "Server failed to process request.") // 500
}

// FromError picks the response for an upload error. Decode and storage
// faults, and anything unrecognised, are server errors.
func FromError(err error) render.Renderer {
	switch {
	case errors.Is(err, models.ErrPayloadTooLarge):
		return ErrContentTooLarge(err)
	case errors.Is(err, models.ErrUnsupportedFormat):
		return ErrUnsupportedMediaType(err)
	case errors.Is(err, models.ErrMalformedRequest):
		return ErrInvalidRequest(err)
	default:
		return ErrInternalServerError(err)
	}
}

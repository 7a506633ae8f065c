package models

import "errors"

// Upload pipeline failure classes. Callers wrap these with %w and the HTTP
// layer maps them to a status with errors.Is.
var (
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrMalformedRequest  = errors.New("malformed upload request")
	ErrUnsupportedFormat = errors.New("unsupported media type")
	ErrDecode            = errors.New("image decode failed")
	ErrStorage           = errors.New("storage failure")
)

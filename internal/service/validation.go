package service

import (
	"fmt"
	"mime"
	"strings"

	"github.com/PaulBabatuyi/ImageDrop/internal/models"
)

var supportedFormats = map[string]models.Format{
	"image/png":  models.FormatPNG,
	"image/jpeg": models.FormatJPEG,
}

// ResolveFormat maps a field's declared Content-Type to its codec. Media
// type parameters are ignored; anything other than image/png or image/jpeg,
// including an empty value, is ErrUnsupportedFormat.
func ResolveFormat(contentType string) (models.Format, error) {
	if strings.TrimSpace(contentType) == "" {
		return "", fmt.Errorf("%w: missing content type", models.ErrUnsupportedFormat)
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", models.ErrUnsupportedFormat, contentType, err)
	}

	format, ok := supportedFormats[mediaType]
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrUnsupportedFormat, mediaType)
	}
	return format, nil
}

package models

import "strings"

// Format identifies the codec an upload was declared and decoded with.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// Extension is the file extension (without dot) used for both the original
// and the preview of an asset.
func (f Format) Extension() string {
	return string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return ""
	}
}

// ImageAsset is the persisted result of one accepted upload field.
type ImageAsset struct {
	ID            string
	Format        Format
	Size          int64
	Width         int
	Height        int
	PreviewWidth  int
	PreviewHeight int
}

// FileName is the shared base name of the original and its preview.
func (a ImageAsset) FileName() string {
	return AssetFileName(a.ID, a.Format)
}

func AssetFileName(id string, format Format) string {
	return id + "." + format.Extension()
}

// ParseAssetName splits "<id>.<ext>" back into its parts. ok is false for
// names that do not carry one of the supported extensions.
func ParseAssetName(name string) (id string, format Format, ok bool) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return "", "", false
	}

	switch Format(name[dot+1:]) {
	case FormatPNG:
		format = FormatPNG
	case FormatJPEG:
		format = FormatJPEG
	default:
		return "", "", false
	}

	return name[:dot], format, true
}

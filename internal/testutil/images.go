// Package testutil builds in-memory image fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func gradient(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{
				R: uint8(x * 255 / max(width, 1)),
				G: uint8(y * 255 / max(height, 1)),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func PNG(t testing.TB, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(width, height)); err != nil {
		t.Fatalf("encode png fixture: %v", err)
	}
	return buf.Bytes()
}

func JPEG(t testing.TB, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, gradient(width, height), nil); err != nil {
		t.Fatalf("encode jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

// Corrupt returns bytes that start like a PNG but cannot be decoded.
func Corrupt() []byte {
	return []byte("\x89PNG\r\n\x1a\nthis is not really an image")
}

// PNGWithDeclaredSize returns a tiny valid PNG whose IHDR claims width x
// height. The header checksum is recomputed so only a full decode notices.
func PNGWithDeclaredSize(t testing.TB, width, height uint32) []byte {
	t.Helper()
	data := PNG(t, 1, 1)

	// signature(8) length(4) "IHDR"(4) width(4) height(4) ... crc(4)
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

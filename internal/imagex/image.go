// Package imagex normalizes outbound clipboard images to PNG. Common raster
// formats decode through the imaging library plus the extra x/image
// decoders; anything undecodable ships as-is with its detected format.
package imagex

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	// BMP and WEBP decoders register themselves with image.Decode.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Normalized is the outcome of normalizing clipboard image bytes.
type Normalized struct {
	Data   []byte
	Width  int
	Height int
	// Format is "png" after a successful re-encode, otherwise the detected
	// source format (jpeg, webp, …).
	Format string
}

// Normalize decodes image bytes (PNG, JPEG, GIF, BMP, WEBP, TIFF) and
// re-encodes them as PNG with default compression. If decoding fails the
// original bytes are returned with their sniffed format and zero dimensions.
func Normalize(data []byte) (*Normalized, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return &Normalized{Data: data, Format: sniffFormat(data)}, nil
	}

	bounds := img.Bounds()

	// Already PNG: keep the bytes, no transcode needed.
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil && format == "png" {
		return &Normalized{Data: data, Width: bounds.Dx(), Height: bounds.Dy(), Format: "png"}, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return &Normalized{Data: buf.Bytes(), Width: bounds.Dx(), Height: bounds.Dy(), Format: "png"}, nil
}

// sniffFormat names the image format of undecodable bytes, e.g. "heic".
// Falls back to "unknown".
func sniffFormat(data []byte) string {
	mt := mimetype.Detect(data)
	if sub, ok := strings.CutPrefix(mt.String(), "image/"); ok {
		return sub
	}
	return "unknown"
}

// MimeHint returns the detected MIME type of a file's leading bytes.
func MimeHint(data []byte) string {
	return mimetype.Detect(data).String()
}

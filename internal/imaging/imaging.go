// Package imaging inspects uploaded photos and cuts detection regions out of them.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"

	"github.com/timmy/fitfinder/internal/domain"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ErrEmptyRegion is returned when a box does not overlap the image.
var ErrEmptyRegion = errors.New("crop region is empty")

const cropQuality = 90

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Info describes an uploaded image.
type Info struct {
	ContentType string
	Width       int
	Height      int
}

// Inspect sniffs the content type and reads pixel dimensions. Width and
// Height stay 0 when the header cannot be decoded.
func Inspect(data []byte) Info {
	info := Info{ContentType: DetectContentType(data)}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		info.Width, info.Height = cfg.Width, cfg.Height
	}
	return info
}

// DetectContentType maps the sniffed MIME type of data to one of the
// supported image types, or application/octet-stream.
func DetectContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if allowedTypes[ct] {
		return ct
	}
	return "application/octet-stream"
}

// IsSupported reports whether contentType is an accepted upload type.
func IsSupported(contentType string) bool {
	return allowedTypes[contentType]
}

// ExtensionFor returns the file extension used when storing contentType.
func ExtensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// Crop cuts box out of the encoded image and returns it as JPEG.
// The box is clipped to the image bounds.
// Parameters:
//   - data: encoded source image (jpeg, png, gif or webp).
//   - box: region in source pixel coordinates.
// Returns:
//   - []byte: JPEG-encoded crop.
//   - error: non-nil if decoding fails or the clipped box is empty.
func Crop(data []byte, box domain.BoundingBox) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	rect := image.Rect(b.Min.X+box.X, b.Min.Y+box.Y, b.Min.X+box.X+box.Width, b.Min.Y+box.Y+box.Height).Intersect(b)
	if rect.Empty() {
		return nil, ErrEmptyRegion
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: cropQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

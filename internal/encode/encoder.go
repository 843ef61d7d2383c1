// Package encode turns rendered coverages into PNG, JPEG, WebP or Terrarium
// image bytes.
package encode

import (
	"fmt"
	"image"
)

// Encoder encodes an image into bytes of one format.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)

	// Format returns the format name (e.g. "jpeg", "png", "webp").
	Format() string

	// ContentType returns the MIME type served over HTTP.
	ContentType() string

	FileExtension() string
}

// NewEncoder creates an encoder for the given format and quality.
func NewEncoder(format string, quality int) (Encoder, error) {
	switch format {
	case "jpeg", "jpg":
		return &JPEGEncoder{Quality: quality}, nil
	case "png":
		return &PNGEncoder{}, nil
	case "webp":
		return newWebPEncoder(quality)
	case "terrarium":
		return &TerrariumEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported image format: %q (supported: jpeg, png, webp, terrarium)", format)
	}
}

// ForExtension picks an encoder from a file extension such as ".png".
func ForExtension(ext string, quality int) (Encoder, error) {
	switch ext {
	case ".jpg", ".jpeg":
		return NewEncoder("jpeg", quality)
	case ".png":
		return NewEncoder("png", quality)
	case ".webp":
		return NewEncoder("webp", quality)
	default:
		return nil, fmt.Errorf("no image encoder for extension %q", ext)
	}
}

package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
)

// DecodeImage decodes bytes produced by the encoder of format.
func DecodeImage(data []byte, format string) (image.Image, error) {
	var dec func(*bytes.Reader) (image.Image, error)
	switch format {
	case "png", "terrarium":
		dec = func(r *bytes.Reader) (image.Image, error) { return png.Decode(r) }
	case "jpeg", "jpg":
		dec = func(r *bytes.Reader) (image.Image, error) { return jpeg.Decode(r) }
	case "webp":
		dec = func(r *bytes.Reader) (image.Image, error) { return webp.Decode(r) }
	default:
		return nil, fmt.Errorf("decode: unsupported format %q", format)
	}
	img, err := dec(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	return img, nil
}

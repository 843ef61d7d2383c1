package encode

import (
	"bytes"
	"image"

	"github.com/gen2brain/webp"
)

// WebPEncoder encodes images as WebP without cgo. A system libwebp is used
// through purego when present, otherwise the WASM build.
type WebPEncoder struct {
	Quality int
	// Lossless is selected by a quality of 100 or more.
	Lossless bool
}

func newWebPEncoder(quality int) (Encoder, error) {
	if quality <= 0 {
		quality = 85
	}
	return &WebPEncoder{Quality: min(quality, 100), Lossless: quality >= 100}, nil
}

func (e *WebPEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	opts := webp.Options{
		Lossless: e.Lossless,
		Quality:  e.Quality,
	}
	if err := webp.Encode(&buf, img, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *WebPEncoder) Format() string       { return "webp" }
func (e *WebPEncoder) ContentType() string   { return "image/webp" }
func (e *WebPEncoder) FileExtension() string { return ".webp" }

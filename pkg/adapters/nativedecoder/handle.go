package nativedecoder

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/user/subscale/pkg/pixfmt"
	"github.com/user/subscale/pkg/regionerr"
)

// handle is a region-capable codec session over one compressed image. The
// header is parsed when the handle is opened; pixels are decoded on the first
// region request and reused afterwards.
type handle struct {
	data   []byte
	format string
	config image.Config

	pixels image.Image
}

// openHandle reads r to the end and parses the image header.
func openHandle(r io.Reader) (*handle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read source: %w", regionerr.ErrSourceUnavailable, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", regionerr.ErrUnsupportedFormat, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %s image reports %dx%d", regionerr.ErrUnsupportedFormat, format, cfg.Width, cfg.Height)
	}

	return &handle{data: data, format: format, config: cfg}, nil
}

func (h *handle) width() int  { return h.config.Width }
func (h *handle) height() int { return h.config.Height }

func (h *handle) decodePixels() (image.Image, error) {
	if h.pixels != nil {
		return h.pixels, nil
	}
	img, _, err := image.Decode(bytes.NewReader(h.data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", regionerr.ErrDecodeFailed, err)
	}
	h.pixels = img
	return img, nil
}

// supported reports whether the codec can produce 16-bit RGB output for img.
// CMYK and 16-bit grayscale sources are rejected so that callers fall back to
// the imaging backend, which converts them.
func supported(img image.Image) bool {
	switch img.(type) {
	case *image.CMYK, *image.Gray16:
		return false
	}
	return true
}

// decodeRegion returns rect downsampled by sampleSize as an RGB565 tile, or
// nil if the source pixel format cannot be converted. rect must already be
// validated against the image bounds.
func (h *handle) decodeRegion(rect image.Rectangle, sampleSize int) (*pixfmt.RGB565, error) {
	src, err := h.decodePixels()
	if err != nil {
		return nil, err
	}
	if !supported(src) {
		return nil, nil
	}

	rect = rect.Add(src.Bounds().Min)
	outW := (rect.Dx() + sampleSize - 1) / sampleSize
	outH := (rect.Dy() + sampleSize - 1) / sampleSize

	scratch := image.NewRGBA(image.Rect(0, 0, outW, outH))
	if sampleSize == 1 {
		draw.Copy(scratch, image.Point{}, src, rect, draw.Src, nil)
	} else {
		draw.ApproxBiLinear.Scale(scratch, scratch.Bounds(), src, rect, draw.Src, nil)
	}

	return pixfmt.Convert(scratch), nil
}

// release drops the compressed bytes and any decoded pixels.
func (h *handle) release() {
	h.data = nil
	h.pixels = nil
}

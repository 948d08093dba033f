package ports

import (
	"context"
	"fmt"
	"image"

	"github.com/user/subscale/pkg/async"
	"github.com/user/subscale/pkg/pixfmt"
	"github.com/user/subscale/pkg/regionerr"
)

// Dimensions represents the intrinsic width and height of an image in pixels.
type Dimensions struct {
	Width  int
	Height int
}

// Bounds returns the image rectangle anchored at the origin.
func (d Dimensions) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.Width, d.Height)
}

// CheckRegion reports regionerr.ErrInvalidRegion unless rect is non-empty,
// lies inside the image and sampleSize is at least 1.
func (d Dimensions) CheckRegion(rect image.Rectangle, sampleSize int) error {
	if sampleSize < 1 {
		return fmt.Errorf("%w: sample size %d", regionerr.ErrInvalidRegion, sampleSize)
	}
	if rect.Empty() || !rect.In(d.Bounds()) {
		return fmt.Errorf("%w: %v outside %dx%d", regionerr.ErrInvalidRegion, rect, d.Width, d.Height)
	}
	return nil
}

// TileSize is the maximum tile dimension suggested to the view layer.
type TileSize struct {
	Width  int
	Height int
}

// TileSizeFunc supplies the default tile size. Decoders forward its value
// unchanged.
type TileSizeFunc func() TileSize

// FixedTileSize returns a TileSizeFunc that always reports width x height.
func FixedTileSize(width, height int) TileSizeFunc {
	return func() TileSize {
		return TileSize{Width: width, Height: height}
	}
}

// DefaultTileSize is the tile size used when none is configured.
func DefaultTileSize() TileSize {
	return TileSize{Width: 2048, Height: 2048}
}

// ImageInfo is the result of a successful Init.
type ImageInfo struct {
	Dimensions Dimensions
	TileSize   TileSize
}

// RegionDecoder decodes rectangular regions of one image at a chosen sample
// size without decoding the whole image for every request.
type RegionDecoder interface {
	// Init resolves the locator, opens the decoder handle and reports the
	// image dimensions. It must be called exactly once, before any
	// DecodeRegion.
	Init(ctx context.Context, host HostContext, locator string) *async.Task[ImageInfo]

	// DecodeRegion decodes rect (source pixel coordinates) keeping one pixel
	// per sampleSize x sampleSize block. The result is a 16-bit RGB tile.
	DecodeRegion(ctx context.Context, rect image.Rectangle, sampleSize int) *async.Task[*pixfmt.RGB565]

	// IsReady reports whether Init succeeded and Recycle has not been called.
	IsReady() bool

	// Recycle releases the decoder handle. It must only be called once all
	// in-flight decodes have completed.
	Recycle()
}

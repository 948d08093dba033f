package ports

import (
	"image"
	"image/color"
)

// Renderer abstracts image composition and encoding.
type Renderer interface {
	// CreateCanvas creates a new drawing canvas with the specified dimensions and background color.
	CreateCanvas(width, height int, bg color.Color) Canvas

	// EncodeImage encodes an image to the specified format.
	EncodeImage(img image.Image, format ImageFormat, quality int) ([]byte, error)
}

// Canvas provides drawing operations for assembling decoded tiles.
type Canvas interface {
	// DrawImage draws an image at the specified position.
	DrawImage(img image.Image, x, y int)

	// DrawImageScaled draws an image scaled to the specified dimensions.
	DrawImageScaled(img image.Image, x, y, width, height int)

	// DrawRectStroke draws a rectangle outline.
	DrawRectStroke(x, y, w, h int, c color.Color, strokeWidth float64)

	// ToImage returns the canvas as an image.Image.
	ToImage() image.Image
}

// ImageFormat specifies image encoding format.
type ImageFormat int

const (
	FormatJPEG ImageFormat = iota
	FormatPNG
)

// ParseImageFormat picks a format from a file extension such as ".jpg".
func ParseImageFormat(ext string) (ImageFormat, bool) {
	switch ext {
	case ".jpg", ".jpeg", ".JPG", ".JPEG":
		return FormatJPEG, true
	case ".png", ".PNG":
		return FormatPNG, true
	default:
		return FormatPNG, false
	}
}

// Package pixfmt provides the 16-bit RGB pixel buffer decoded tiles use.
package pixfmt

import (
	"image"
	"image/color"
	"image/draw"
)

// RGB565Color is a 16-bit colour: 5 bits red, 6 bits green, 5 bits blue.
type RGB565Color uint16

// RGBA implements color.Color. Channels are expanded by bit replication so
// full intensity maps to 0xffff.
func (c RGB565Color) RGBA() (r, g, b, a uint32) {
	r5 := uint32(c>>11) & 0x1f
	g6 := uint32(c>>5) & 0x3f
	b5 := uint32(c) & 0x1f

	r8 := r5<<3 | r5>>2
	g8 := g6<<2 | g6>>4
	b8 := b5<<3 | b5>>2

	return r8 | r8<<8, g8 | g8<<8, b8 | b8<<8, 0xffff
}

// Pack converts 8-bit channels to RGB565.
func Pack(r, g, b uint8) RGB565Color {
	return RGB565Color(uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3))
}

// RGB565Model converts any colour to RGB565, dropping alpha.
var RGB565Model = color.ModelFunc(func(c color.Color) color.Color {
	if c, ok := c.(RGB565Color); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return Pack(uint8(r>>8), uint8(g>>8), uint8(b>>8))
})

// RGB565 is an in-memory image of RGB565Color values stored little-endian,
// two bytes per pixel.
type RGB565 struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewRGB565 returns a new RGB565 image with the given bounds.
func NewRGB565(r image.Rectangle) *RGB565 {
	return &RGB565{
		Pix:    make([]uint8, 2*r.Dx()*r.Dy()),
		Stride: 2 * r.Dx(),
		Rect:   r,
	}
}

// ColorModel implements image.Image.
func (p *RGB565) ColorModel() color.Model { return RGB565Model }

// Bounds implements image.Image.
func (p *RGB565) Bounds() image.Rectangle { return p.Rect }

// At implements image.Image.
func (p *RGB565) At(x, y int) color.Color {
	return p.RGB565At(x, y)
}

// RGB565At returns the colour at (x, y), or zero outside the bounds.
func (p *RGB565) RGB565At(x, y int) RGB565Color {
	if !(image.Point{x, y}.In(p.Rect)) {
		return 0
	}
	i := p.PixOffset(x, y)
	return RGB565Color(uint16(p.Pix[i]) | uint16(p.Pix[i+1])<<8)
}

// PixOffset returns the index of the first byte of the pixel at (x, y).
func (p *RGB565) PixOffset(x, y int) int {
	return (y-p.Rect.Min.Y)*p.Stride + (x-p.Rect.Min.X)*2
}

// Set implements draw.Image.
func (p *RGB565) Set(x, y int, c color.Color) {
	p.SetRGB565(x, y, RGB565Model.Convert(c).(RGB565Color))
}

// SetRGB565 stores c at (x, y). Points outside the bounds are ignored.
func (p *RGB565) SetRGB565(x, y int, c RGB565Color) {
	if !(image.Point{x, y}.In(p.Rect)) {
		return
	}
	i := p.PixOffset(x, y)
	p.Pix[i] = uint8(c)
	p.Pix[i+1] = uint8(c >> 8)
}

// Convert packs src into a new RGB565 image with the same bounds. *image.RGBA
// and *image.NRGBA sources take a direct path; anything else goes through
// image/draw.
func Convert(src image.Image) *RGB565 {
	b := src.Bounds()
	dst := NewRGB565(b)

	switch s := src.(type) {
	case *image.RGBA:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := s.PixOffset(b.Min.X, y)
			di := dst.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X; x++ {
				c := Pack(s.Pix[si], s.Pix[si+1], s.Pix[si+2])
				dst.Pix[di] = uint8(c)
				dst.Pix[di+1] = uint8(c >> 8)
				si += 4
				di += 2
			}
		}
	case *image.NRGBA:
		// Alpha is dropped, so the colour is composited on black first.
		for y := b.Min.Y; y < b.Max.Y; y++ {
			si := s.PixOffset(b.Min.X, y)
			di := dst.PixOffset(b.Min.X, y)
			for x := b.Min.X; x < b.Max.X; x++ {
				a := uint16(s.Pix[si+3])
				c := Pack(
					uint8(uint16(s.Pix[si])*a/0xff),
					uint8(uint16(s.Pix[si+1])*a/0xff),
					uint8(uint16(s.Pix[si+2])*a/0xff),
				)
				dst.Pix[di] = uint8(c)
				dst.Pix[di+1] = uint8(c >> 8)
				si += 4
				di += 2
			}
		}
	default:
		draw.Draw(dst, b, src, b.Min, draw.Src)
	}

	return dst
}

// Ensure RGB565 implements draw.Image
var _ draw.Image = (*RGB565)(nil)

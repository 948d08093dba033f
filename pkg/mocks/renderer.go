package mocks

import (
	"image"
	"image/color"
	"sync"

	"github.com/user/subscale/pkg/ports"
)

// Renderer is a mock implementation of ports.Renderer.
type Renderer struct {
	CreateCanvasFunc func(width, height int, bg color.Color) ports.Canvas
	EncodeImageFunc  func(img image.Image, format ports.ImageFormat, quality int) ([]byte, error)

	mu       sync.Mutex
	Canvases []*Canvas
}

func (m *Renderer) CreateCanvas(width, height int, bg color.Color) ports.Canvas {
	if m.CreateCanvasFunc != nil {
		return m.CreateCanvasFunc(width, height, bg)
	}
	c := &Canvas{width: width, height: height}
	m.mu.Lock()
	m.Canvases = append(m.Canvases, c)
	m.mu.Unlock()
	return c
}

func (m *Renderer) EncodeImage(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
	if m.EncodeImageFunc != nil {
		return m.EncodeImageFunc(img, format, quality)
	}
	return []byte{}, nil
}

var _ ports.Renderer = (*Renderer)(nil)

// Placement records one DrawImage or DrawImageScaled call.
type Placement struct {
	Bounds image.Rectangle
	Target image.Rectangle
}

// Canvas is a mock implementation of ports.Canvas that records draws.
type Canvas struct {
	mu     sync.Mutex
	width  int
	height int
	img    *image.RGBA

	Placements []Placement
	Strokes    []image.Rectangle
}

func (m *Canvas) DrawImage(img image.Image, x, y int) {
	b := img.Bounds()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Placements = append(m.Placements, Placement{
		Bounds: b,
		Target: image.Rect(x, y, x+b.Dx(), y+b.Dy()),
	})
}

func (m *Canvas) DrawImageScaled(img image.Image, x, y, width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Placements = append(m.Placements, Placement{
		Bounds: img.Bounds(),
		Target: image.Rect(x, y, x+width, y+height),
	})
}

func (m *Canvas) DrawRectStroke(x, y, w, h int, c color.Color, strokeWidth float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Strokes = append(m.Strokes, image.Rect(x, y, x+w, y+h))
}

func (m *Canvas) ToImage() image.Image {
	if m.img != nil {
		return m.img
	}
	return image.NewRGBA(image.Rect(0, 0, m.width, m.height))
}

var _ ports.Canvas = (*Canvas)(nil)

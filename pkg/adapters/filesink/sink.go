// Package filesink provides a file-based debug sink implementation.
package filesink

import (
	"fmt"
	"image"
	"path/filepath"

	"github.com/user/subscale/pkg/ports"
)

// Sink saves debug output to files.
type Sink struct {
	baseDir  string
	fs       ports.FileSystem
	renderer ports.Renderer
}

// New creates a new FileSink.
func New(baseDir string, fs ports.FileSystem, renderer ports.Renderer) *Sink {
	return &Sink{
		baseDir:  baseDir,
		fs:       fs,
		renderer: renderer,
	}
}

// Enabled returns true as this sink saves output.
func (s *Sink) Enabled() bool {
	return true
}

// SaveSourceInfo saves the description of the initialised source as JSON.
func (s *Sink) SaveSourceInfo(data []byte) error {
	if err := s.fs.MkdirAll(s.baseDir); err != nil {
		return err
	}
	path := filepath.Join(s.baseDir, "source.json")
	return s.fs.WriteFile(path, data)
}

// SaveTile saves a decoded tile as PNG. The file name records the source
// rectangle and sample size.
func (s *Sink) SaveTile(rect image.Rectangle, sampleSize int, img image.Image) error {
	dir := filepath.Join(s.baseDir, "tiles")
	if err := s.fs.MkdirAll(dir); err != nil {
		return err
	}
	data, err := s.renderer.EncodeImage(img, ports.FormatPNG, 0)
	if err != nil {
		return fmt.Errorf("encode tile: %w", err)
	}
	path := filepath.Join(dir, TileName(rect, sampleSize))
	return s.fs.WriteFile(path, data)
}

// TileName returns the file name used for a tile.
func TileName(rect image.Rectangle, sampleSize int) string {
	return fmt.Sprintf("tile-%d-%d-%d-%d-s%d.png", rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy(), sampleSize)
}

// Ensure Sink implements ports.DebugSink
var _ ports.DebugSink = (*Sink)(nil)

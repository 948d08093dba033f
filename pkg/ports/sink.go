package ports

import (
	"image"
)

// DebugSink receives intermediate decoder output for inspection.
type DebugSink interface {
	// Enabled returns true if debug output is enabled.
	Enabled() bool

	// SaveSourceInfo saves a JSON description of an initialised source.
	SaveSourceInfo(data []byte) error

	// SaveTile saves a decoded tile together with the request that produced it.
	SaveTile(rect image.Rectangle, sampleSize int, img image.Image) error
}

// SourceInfo describes an initialised source. Decoders pass it to
// SaveSourceInfo as JSON.
type SourceInfo struct {
	Locator    string `json:"locator"`
	Kind       string `json:"kind"`
	Backend    string `json:"backend"`
	Format     string `json:"format"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	TileWidth  int    `json:"tile_width"`
	TileHeight int    `json:"tile_height"`
}

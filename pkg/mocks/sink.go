package mocks

import (
	"image"
	"sync"

	"github.com/user/subscale/pkg/ports"
)

// SavedTile records one SaveTile call.
type SavedTile struct {
	Rect       image.Rectangle
	SampleSize int
	Image      image.Image
}

// DebugSink is a mock implementation of ports.DebugSink.
type DebugSink struct {
	mu sync.RWMutex

	enabled bool

	SourceInfo []byte
	Tiles      []SavedTile

	SaveTileErr error
}

// NewDebugSink creates a new mock DebugSink.
func NewDebugSink(enabled bool) *DebugSink {
	return &DebugSink{enabled: enabled}
}

func (m *DebugSink) Enabled() bool {
	return m.enabled
}

func (m *DebugSink) SaveSourceInfo(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SourceInfo = data
	return nil
}

func (m *DebugSink) SaveTile(rect image.Rectangle, sampleSize int, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveTileErr != nil {
		return m.SaveTileErr
	}
	m.Tiles = append(m.Tiles, SavedTile{Rect: rect, SampleSize: sampleSize, Image: img})
	return nil
}

// SavedTiles returns a copy of the recorded tiles.
func (m *DebugSink) SavedTiles() []SavedTile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SavedTile(nil), m.Tiles...)
}

var _ ports.DebugSink = (*DebugSink)(nil)


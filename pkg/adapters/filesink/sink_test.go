package filesink

import (
	"errors"
	"image"
	"path/filepath"
	"testing"

	"github.com/user/subscale/pkg/mocks"
	"github.com/user/subscale/pkg/ports"
)

// testBaseDir is a platform-independent base directory for tests
var testBaseDir = filepath.Join("debug")

func TestSink_Enabled(t *testing.T) {
	fs := mocks.NewFileSystem()
	renderer := &mocks.Renderer{}
	sink := New(testBaseDir, fs, renderer)

	if !sink.Enabled() {
		t.Error("expected Enabled to return true")
	}
}

func TestSink_SaveSourceInfo(t *testing.T) {
	fs := mocks.NewFileSystem()
	renderer := &mocks.Renderer{}
	sink := New(testBaseDir, fs, renderer)

	data := []byte(`{"width": 4000, "height": 3000}`)
	if err := sink.SaveSourceInfo(data); err != nil {
		t.Fatalf("SaveSourceInfo failed: %v", err)
	}

	expectedPath := filepath.Join(testBaseDir, "source.json")
	saved, ok := fs.GetFile(expectedPath)
	if !ok {
		t.Fatalf("expected file to be saved at %s", expectedPath)
	}
	if string(saved) != string(data) {
		t.Errorf("expected %q, got %q", data, saved)
	}
}

func TestSink_SaveTile(t *testing.T) {
	fs := mocks.NewFileSystem()
	var encodedFormat ports.ImageFormat = -1
	renderer := &mocks.Renderer{
		EncodeImageFunc: func(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
			encodedFormat = format
			return []byte("png-data"), nil
		},
	}
	sink := New(testBaseDir, fs, renderer)

	rect := image.Rect(512, 256, 1024, 768)
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	if err := sink.SaveTile(rect, 4, img); err != nil {
		t.Fatalf("SaveTile failed: %v", err)
	}

	if encodedFormat != ports.FormatPNG {
		t.Errorf("expected PNG encoding, got %d", encodedFormat)
	}

	expectedPath := filepath.Join(testBaseDir, "tiles", "tile-512-256-512-512-s4.png")
	saved, ok := fs.GetFile(expectedPath)
	if !ok {
		t.Fatalf("expected file to be saved at %s, have %v", expectedPath, fs.GetAllFiles())
	}
	if string(saved) != "png-data" {
		t.Errorf("expected png-data, got %q", saved)
	}
}

func TestSink_SaveTile_EncodeError(t *testing.T) {
	fs := mocks.NewFileSystem()
	encodeErr := errors.New("encode failed")
	renderer := &mocks.Renderer{
		EncodeImageFunc: func(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
			return nil, encodeErr
		},
	}
	sink := New(testBaseDir, fs, renderer)

	err := sink.SaveTile(image.Rect(0, 0, 10, 10), 1, image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if !errors.Is(err, encodeErr) {
		t.Errorf("expected encode error, got %v", err)
	}
	if len(fs.GetAllFiles()) != 0 {
		t.Errorf("expected no files written, got %v", fs.GetAllFiles())
	}
}

func TestSink_SaveTile_MkdirError(t *testing.T) {
	fs := mocks.NewFileSystem()
	mkdirErr := errors.New("read-only")
	fs.MkdirAllFunc = func(path string) error { return mkdirErr }
	sink := New(testBaseDir, fs, &mocks.Renderer{})

	err := sink.SaveTile(image.Rect(0, 0, 10, 10), 1, image.NewRGBA(image.Rect(0, 0, 10, 10)))
	if !errors.Is(err, mkdirErr) {
		t.Errorf("expected mkdir error, got %v", err)
	}
}

func TestTileName(t *testing.T) {
	got := TileName(image.Rect(0, 0, 256, 128), 2)
	if got != "tile-0-0-256-128-s2.png" {
		t.Errorf("unexpected name %q", got)
	}
}
